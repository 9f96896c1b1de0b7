package searchparam

import "sync"

// R4ResourceTypes lists the FHIR R4 resource types.
var R4ResourceTypes = []string{
	"Account", "ActivityDefinition", "AdverseEvent", "AllergyIntolerance", "Appointment",
	"AppointmentResponse", "AuditEvent", "Basic", "Binary", "BiologicallyDerivedProduct",
	"BodyStructure", "Bundle", "CapabilityStatement", "CarePlan", "CareTeam", "CatalogEntry",
	"ChargeItem", "ChargeItemDefinition", "Claim", "ClaimResponse", "ClinicalImpression",
	"CodeSystem", "Communication", "CommunicationRequest", "CompartmentDefinition",
	"Composition", "ConceptMap", "Condition", "Consent", "Contract", "Coverage",
	"CoverageEligibilityRequest", "CoverageEligibilityResponse", "DetectedIssue", "Device",
	"DeviceDefinition", "DeviceMetric", "DeviceRequest", "DeviceUseStatement",
	"DiagnosticReport", "DocumentManifest", "DocumentReference", "EffectEvidenceSynthesis",
	"Encounter", "Endpoint", "EnrollmentRequest", "EnrollmentResponse", "EpisodeOfCare",
	"EventDefinition", "Evidence", "EvidenceVariable", "ExampleScenario",
	"ExplanationOfBenefit", "FamilyMemberHistory", "Flag", "Goal", "GraphDefinition", "Group",
	"GuidanceResponse", "HealthcareService", "ImagingStudy", "Immunization",
	"ImmunizationEvaluation", "ImmunizationRecommendation", "ImplementationGuide",
	"InsurancePlan", "Invoice", "Library", "Linkage", "List", "Location", "Measure",
	"MeasureReport", "Media", "Medication", "MedicationAdministration", "MedicationDispense",
	"MedicationKnowledge", "MedicationRequest", "MedicationStatement", "MedicinalProduct",
	"MedicinalProductAuthorization", "MedicinalProductContraindication",
	"MedicinalProductIndication", "MedicinalProductIngredient", "MedicinalProductInteraction",
	"MedicinalProductManufactured", "MedicinalProductPackaged",
	"MedicinalProductPharmaceutical", "MedicinalProductUndesirableEffect",
	"MessageDefinition", "MessageHeader", "MolecularSequence", "NamingSystem",
	"NutritionOrder", "Observation", "ObservationDefinition", "OperationDefinition",
	"OperationOutcome", "Organization", "OrganizationAffiliation", "Parameters", "Patient",
	"PaymentNotice", "PaymentReconciliation", "Person", "PlanDefinition", "Practitioner",
	"PractitionerRole", "Procedure", "Provenance", "Questionnaire", "QuestionnaireResponse",
	"RelatedPerson", "RequestGroup", "ResearchDefinition", "ResearchElementDefinition",
	"ResearchStudy", "ResearchSubject", "RiskAssessment", "RiskEvidenceSynthesis", "Schedule",
	"SearchParameter", "ServiceRequest", "Slot", "Specimen", "SpecimenDefinition",
	"StructureDefinition", "StructureMap", "Subscription", "Substance",
	"SubstanceNucleicAcid", "SubstancePolymer", "SubstanceProtein",
	"SubstanceReferenceInformation", "SubstanceSourceMaterial", "SubstanceSpecification",
	"SupplyDelivery", "SupplyRequest", "Task", "TerminologyCapabilities", "TestReport",
	"TestScript", "ValueSet", "VerificationResult", "VisionPrescription",
}

func str(code string, paths ...string) Definition {
	return Definition{Code: code, Type: TypeString, Paths: paths}
}

func tok(code string, paths ...string) Definition {
	return Definition{Code: code, Type: TypeToken, Paths: paths}
}

func date(code string, paths ...string) Definition {
	return Definition{Code: code, Type: TypeDate, Paths: paths}
}

func num(code string, paths ...string) Definition {
	return Definition{Code: code, Type: TypeNumber, Paths: paths}
}

func qty(code string, paths ...string) Definition {
	return Definition{Code: code, Type: TypeQuantity, Paths: paths}
}

func uri(code string, paths ...string) Definition {
	return Definition{Code: code, Type: TypeURI, Paths: paths}
}

func ref(code string, targets []string, paths ...string) Definition {
	return Definition{Code: code, Type: TypeReference, Targets: targets, Paths: paths}
}

func canonicalRef(code string, targets []string, paths ...string) Definition {
	d := ref(code, targets, paths...)
	d.Canonical = true
	return d
}

// canonicalURL is the url parameter of a definitional resource, paired with
// its business version.
func canonicalURL() Definition {
	return Definition{Code: "url", Type: TypeURI, Paths: []string{"url"}, Canonical: true, VersionPath: "version"}
}

func composite(code, path string, components ...Component) Definition {
	var paths []string
	if path != "" {
		paths = []string{path}
	}
	return Definition{Code: code, Type: TypeComposite, Paths: paths, Components: components}
}

func on(base string, defs ...Definition) []Definition {
	for i := range defs {
		defs[i].Base = []string{base}
	}
	return defs
}

var (
	subjectTargets     = []string{"Patient", "Group"}
	patientTarget      = []string{"Patient"}
	encounterTarget    = []string{"Encounter"}
	organizationTarget = []string{"Organization"}
	locationTarget     = []string{"Location"}
	endpointTarget     = []string{"Endpoint"}
	practitionerTarget = []string{"Practitioner"}
	agentTargets       = []string{"Practitioner", "PractitionerRole", "Organization", "Patient", "RelatedPerson", "Device"}
	anyTarget          = []string{AnyTarget}
)

func catalog() [][]Definition {
	return [][]Definition{
		on(ResourceBase,
			tok("_id", "id"),
			date("_lastUpdated", "meta.lastUpdated"),
			tok("_tag", "meta.tag"),
			tok("_security", "meta.security"),
			Definition{Code: "_profile", Type: TypeURI, Paths: []string{"meta.profile"}, Canonical: true},
			uri("_source", "meta.source"),
		),
		on("Patient",
			str("name", "name"),
			str("family", "name.family"),
			str("given", "name.given"),
			str("address", "address"),
			str("address-city", "address.city"),
			str("address-postalcode", "address.postalCode"),
			tok("identifier", "identifier"),
			tok("gender", "gender"),
			tok("active", "active"),
			tok("telecom", "telecom"),
			tok("email", "telecom[system=email]"),
			tok("phone", "telecom[system=phone]"),
			tok("language", "communication.language"),
			tok("deceased", "deceasedBoolean"),
			date("birthdate", "birthDate"),
			date("death-date", "deceasedDateTime"),
			ref("organization", organizationTarget, "managingOrganization"),
			ref("general-practitioner", []string{"Organization", "Practitioner", "PractitionerRole"}, "generalPractitioner"),
			ref("link", []string{"Patient", "RelatedPerson"}, "link.other"),
		),
		on("Practitioner",
			str("name", "name"),
			str("family", "name.family"),
			str("given", "name.given"),
			str("address", "address"),
			tok("identifier", "identifier"),
			tok("gender", "gender"),
			tok("active", "active"),
			tok("telecom", "telecom"),
		),
		on("PractitionerRole",
			tok("identifier", "identifier"),
			tok("role", "code"),
			tok("specialty", "specialty"),
			tok("active", "active"),
			date("date", "period"),
			ref("practitioner", practitionerTarget, "practitioner"),
			ref("organization", organizationTarget, "organization"),
			ref("location", locationTarget, "location"),
			ref("endpoint", endpointTarget, "endpoint"),
			ref("service", []string{"HealthcareService"}, "healthcareService"),
		),
		on("RelatedPerson",
			str("name", "name"),
			tok("identifier", "identifier"),
			tok("relationship", "relationship"),
			ref("patient", patientTarget, "patient"),
		),
		on("Organization",
			str("name", "name", "alias"),
			str("address", "address"),
			str("address-city", "address.city"),
			tok("identifier", "identifier"),
			tok("type", "type"),
			tok("active", "active"),
			ref("partof", organizationTarget, "partOf"),
			ref("endpoint", endpointTarget, "endpoint"),
		),
		on("Location",
			str("name", "name", "alias"),
			str("address", "address"),
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("type", "type"),
			ref("organization", organizationTarget, "managingOrganization"),
			ref("partof", locationTarget, "partOf"),
			ref("endpoint", endpointTarget, "endpoint"),
		),
		on("Endpoint",
			str("name", "name"),
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("connection-type", "connectionType"),
			tok("payload-type", "payloadType"),
			ref("organization", organizationTarget, "managingOrganization"),
		),
		on("Encounter",
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("class", "class"),
			tok("type", "type"),
			tok("reason-code", "reasonCode"),
			date("date", "period"),
			qty("length", "length"),
			ref("subject", subjectTargets, "subject"),
			ref("patient", patientTarget, "subject"),
			ref("reason-reference", []string{"Condition", "Procedure", "Observation", "ImmunizationRecommendation"}, "reasonReference"),
			ref("service-provider", organizationTarget, "serviceProvider"),
			ref("participant", []string{"Practitioner", "PractitionerRole", "RelatedPerson"}, "participant.individual"),
			ref("practitioner", practitionerTarget, "participant.individual"),
			ref("location", locationTarget, "location.location"),
			ref("diagnosis", []string{"Condition", "Procedure"}, "diagnosis.condition"),
			ref("part-of", encounterTarget, "partOf"),
			ref("based-on", []string{"ServiceRequest"}, "basedOn"),
			ref("episode-of-care", []string{"EpisodeOfCare"}, "episodeOfCare"),
		),
		on("Procedure",
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("code", "code"),
			tok("category", "category"),
			tok("reason-code", "reasonCode"),
			date("date", "performedDateTime", "performedPeriod"),
			uri("instantiates-uri", "instantiatesUri"),
			canonicalRef("instantiates-canonical", []string{"PlanDefinition", "ActivityDefinition", "Measure", "OperationDefinition", "Questionnaire"}, "instantiatesCanonical"),
			ref("subject", subjectTargets, "subject"),
			ref("patient", patientTarget, "subject"),
			ref("encounter", encounterTarget, "encounter"),
			ref("performer", agentTargets, "performer.actor"),
			ref("part-of", []string{"Procedure", "Observation", "MedicationAdministration"}, "partOf"),
			ref("reason-reference", []string{"Condition", "Observation", "Procedure", "DiagnosticReport", "DocumentReference"}, "reasonReference"),
			ref("based-on", []string{"CarePlan", "ServiceRequest"}, "basedOn"),
			ref("location", locationTarget, "location"),
		),
		on("Observation",
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("code", "code"),
			tok("category", "category"),
			tok("component-code", "component.code"),
			tok("combo-code", "code", "component.code"),
			tok("value-concept", "valueCodeableConcept"),
			tok("data-absent-reason", "dataAbsentReason"),
			str("value-string", "valueString"),
			date("date", "effectiveDateTime", "effectivePeriod", "effectiveInstant"),
			date("value-date", "valueDateTime", "valuePeriod"),
			qty("value-quantity", "valueQuantity"),
			qty("component-value-quantity", "component.valueQuantity"),
			ref("subject", []string{"Patient", "Group", "Device", "Location"}, "subject"),
			ref("patient", patientTarget, "subject"),
			ref("encounter", encounterTarget, "encounter"),
			ref("performer", []string{"Practitioner", "PractitionerRole", "Organization", "CareTeam", "Patient", "RelatedPerson"}, "performer"),
			ref("based-on", []string{"CarePlan", "DeviceRequest", "ImmunizationRecommendation", "MedicationRequest", "NutritionOrder", "ServiceRequest"}, "basedOn"),
			ref("part-of", []string{"MedicationAdministration", "MedicationDispense", "MedicationStatement", "Procedure", "Immunization", "ImagingStudy"}, "partOf"),
			ref("has-member", []string{"Observation", "QuestionnaireResponse", "MolecularSequence"}, "hasMember"),
			ref("derived-from", []string{"DocumentReference", "ImagingStudy", "Media", "QuestionnaireResponse", "Observation", "MolecularSequence"}, "derivedFrom"),
			ref("device", []string{"Device", "DeviceMetric"}, "device"),
			ref("focus", anyTarget, "focus"),
			composite("code-value-quantity", "",
				Component{Code: "code", Type: TypeToken, Path: "code"},
				Component{Code: "value-quantity", Type: TypeQuantity, Path: "valueQuantity"}),
			composite("code-value-string", "",
				Component{Code: "code", Type: TypeToken, Path: "code"},
				Component{Code: "value-string", Type: TypeString, Path: "valueString"}),
			composite("code-value-concept", "",
				Component{Code: "code", Type: TypeToken, Path: "code"},
				Component{Code: "value-concept", Type: TypeToken, Path: "valueCodeableConcept"}),
			composite("code-value-date", "",
				Component{Code: "code", Type: TypeToken, Path: "code"},
				Component{Code: "value-date", Type: TypeDate, Path: "valueDateTime"}),
			composite("component-code-value-quantity", "component",
				Component{Code: "component-code", Type: TypeToken, Path: "code"},
				Component{Code: "component-value-quantity", Type: TypeQuantity, Path: "valueQuantity"}),
		),
		on("Condition",
			tok("identifier", "identifier"),
			tok("code", "code"),
			tok("clinical-status", "clinicalStatus"),
			tok("verification-status", "verificationStatus"),
			tok("category", "category"),
			tok("severity", "severity"),
			date("onset-date", "onsetDateTime", "onsetPeriod"),
			date("recorded-date", "recordedDate"),
			ref("subject", subjectTargets, "subject"),
			ref("patient", patientTarget, "subject"),
			ref("encounter", encounterTarget, "encounter"),
			ref("asserter", []string{"Practitioner", "PractitionerRole", "Patient", "RelatedPerson"}, "asserter"),
		),
		on("CarePlan",
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("intent", "intent"),
			tok("category", "category"),
			date("date", "period"),
			uri("instantiates-uri", "instantiatesUri"),
			canonicalRef("instantiates-canonical", []string{"PlanDefinition", "Questionnaire", "Measure", "ActivityDefinition", "OperationDefinition"}, "instantiatesCanonical"),
			ref("subject", subjectTargets, "subject"),
			ref("patient", patientTarget, "subject"),
			ref("encounter", encounterTarget, "encounter"),
			ref("based-on", []string{"CarePlan"}, "basedOn"),
			ref("part-of", []string{"CarePlan"}, "partOf"),
			ref("replaces", []string{"CarePlan"}, "replaces"),
			ref("care-team", []string{"CareTeam"}, "careTeam"),
		),
		on("ServiceRequest",
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("intent", "intent"),
			tok("code", "code"),
			tok("category", "category"),
			date("authored", "authoredOn"),
			ref("subject", []string{"Patient", "Group", "Location", "Device"}, "subject"),
			ref("patient", patientTarget, "subject"),
			ref("encounter", encounterTarget, "encounter"),
			ref("requester", agentTargets, "requester"),
			ref("performer", agentTargets, "performer"),
			ref("based-on", []string{"CarePlan", "ServiceRequest", "MedicationRequest"}, "basedOn"),
		),
		on("Device",
			tok("identifier", "identifier"),
			tok("type", "type"),
			tok("status", "status"),
			str("manufacturer", "manufacturer"),
			str("model", "modelNumber"),
			str("device-name", "deviceName.name"),
			uri("url", "url"),
			ref("patient", patientTarget, "patient"),
			ref("organization", organizationTarget, "owner"),
			ref("location", locationTarget, "location"),
		),
		on("Group",
			tok("identifier", "identifier"),
			tok("type", "type"),
			tok("code", "code"),
			tok("actual", "actual"),
			tok("characteristic", "characteristic.code"),
			ref("member", []string{"Patient", "Practitioner", "PractitionerRole", "Device", "Medication", "Substance", "Group"}, "member.entity"),
			ref("managing-entity", []string{"Organization", "RelatedPerson", "Practitioner", "PractitionerRole"}, "managingEntity"),
		),
		on("Library",
			canonicalURL(),
			tok("version", "version"),
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("type", "type"),
			str("name", "name"),
			str("title", "title"),
			date("date", "date"),
			canonicalRef("depends-on", anyTarget, "relatedArtifact[type=depends-on].resource"),
			canonicalRef("composed-of", anyTarget, "relatedArtifact[type=composed-of].resource"),
			canonicalRef("derived-from", anyTarget, "relatedArtifact[type=derived-from].resource"),
			canonicalRef("successor", anyTarget, "relatedArtifact[type=successor].resource"),
			canonicalRef("predecessor", anyTarget, "relatedArtifact[type=predecessor].resource"),
		),
		on("Measure",
			canonicalURL(),
			tok("version", "version"),
			tok("identifier", "identifier"),
			tok("status", "status"),
			str("name", "name"),
			str("title", "title"),
			date("date", "date"),
			canonicalRef("depends-on", anyTarget, "relatedArtifact[type=depends-on].resource", "library"),
			canonicalRef("composed-of", anyTarget, "relatedArtifact[type=composed-of].resource"),
			canonicalRef("derived-from", anyTarget, "relatedArtifact[type=derived-from].resource"),
		),
		on("PlanDefinition",
			canonicalURL(),
			tok("version", "version"),
			tok("status", "status"),
			str("name", "name"),
			canonicalRef("depends-on", anyTarget, "relatedArtifact[type=depends-on].resource", "library"),
		),
		on("MeasureReport",
			tok("identifier", "identifier"),
			tok("status", "status"),
			date("date", "date"),
			date("period", "period"),
			canonicalRef("measure", []string{"Measure"}, "measure"),
			ref("subject", []string{"Patient", "Practitioner", "PractitionerRole", "Location", "Device", "RelatedPerson", "Group"}, "subject"),
			ref("patient", patientTarget, "subject"),
			ref("reporter", []string{"Practitioner", "PractitionerRole", "Location", "Organization"}, "reporter"),
			ref("evaluated-resource", anyTarget, "evaluatedResource"),
		),
		on("MedicationAdministration",
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("code", "medicationCodeableConcept"),
			date("effective-time", "effectiveDateTime", "effectivePeriod"),
			ref("subject", subjectTargets, "subject"),
			ref("patient", patientTarget, "subject"),
			ref("context", []string{"Encounter", "EpisodeOfCare"}, "context"),
			ref("performer", agentTargets, "performer.actor"),
			ref("medication", []string{"Medication"}, "medicationReference"),
		),
		on("RiskAssessment",
			tok("identifier", "identifier"),
			tok("method", "method"),
			tok("risk", "prediction.qualitativeRisk"),
			num("probability", "prediction.probabilityDecimal"),
			date("date", "occurrenceDateTime"),
			ref("subject", subjectTargets, "subject"),
			ref("patient", patientTarget, "subject"),
			ref("encounter", encounterTarget, "encounter"),
			ref("performer", []string{"Practitioner", "PractitionerRole", "Device"}, "performer"),
			ref("condition", []string{"Condition"}, "condition"),
		),
		on("Provenance",
			date("recorded", "recorded"),
			date("when", "occurredDateTime"),
			ref("target", anyTarget, "target"),
			ref("patient", patientTarget, "target"),
			ref("agent", agentTargets, "agent.who"),
			ref("entity", anyTarget, "entity.what"),
			ref("location", locationTarget, "location"),
		),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the built-in R4 registry snapshot.
func Default() *Registry {
	defaultOnce.Do(func() {
		b := NewBuilder(R4ResourceTypes...)
		for _, group := range catalog() {
			b.MustAdd(group...)
		}
		defaultRegistry = b.Build()
	})
	return defaultRegistry
}
