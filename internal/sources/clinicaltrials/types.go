package clinicaltrials

// studiesResponse is the JSON envelope returned by the /studies endpoint
// of the ClinicalTrials.gov API v2.
type studiesResponse struct {
	Studies       []study `json:"studies"`
	TotalCount    int     `json:"totalCount"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

type study struct {
	ProtocolSection protocolSection `json:"protocolSection"`
}

type protocolSection struct {
	Identification identificationModule `json:"identificationModule"`
	Status         statusModule         `json:"statusModule"`
	Description    descriptionModule    `json:"descriptionModule"`
	Design         designModule         `json:"designModule"`
	Contacts       contactsModule       `json:"contactsLocationsModule"`
	References     referencesModule     `json:"referencesModule"`
}

type identificationModule struct {
	NCTID         string `json:"nctId"`
	BriefTitle    string `json:"briefTitle"`
	OfficialTitle string `json:"officialTitle"`
}

type statusModule struct {
	StartDateStruct dateStruct `json:"startDateStruct"`
}

type dateStruct struct {
	// Date is "YYYY-MM" or "YYYY-MM-DD".
	Date string `json:"date"`
}

type descriptionModule struct {
	BriefSummary        string `json:"briefSummary"`
	DetailedDescription string `json:"detailedDescription"`
}

type designModule struct {
	StudyType      string         `json:"studyType"`
	DesignInfo     designInfo     `json:"designInfo"`
	EnrollmentInfo enrollmentInfo `json:"enrollmentInfo"`
}

type designInfo struct {
	Allocation         string `json:"allocation"`
	ObservationalModel string `json:"observationalModel"`
}

type enrollmentInfo struct {
	Count int    `json:"count"`
	Type  string `json:"type"`
}

type contactsModule struct {
	OverallOfficials []official `json:"overallOfficials"`
}

type official struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type referencesModule struct {
	References []reference `json:"references"`
}

type reference struct {
	PMID     string `json:"pmid"`
	Citation string `json:"citation"`
}
