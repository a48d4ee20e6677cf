package cybersponse

// Entity is an observable value submitted for lookup.
type Entity struct {
	Value string `json:"value"`
}

// Record is a JSON object as returned by the CyberSponse API.
type Record map[string]interface{}

// ID returns the record IRI, e.g. "/api/3/incidents/<uuid>".
func (r Record) ID() string {
	return r.String("@id")
}

// String returns a top-level string field or "".
func (r Record) String(field string) string {
	if v, ok := r[field].(string); ok {
		return v
	}
	return ""
}

// PicklistValue returns the itemValue label of a picklist field such as
// severity or status, or "" when the field is absent.
func (r Record) PicklistValue(field string) string {
	obj, ok := r[field].(map[string]interface{})
	if !ok {
		return ""
	}
	if v, ok := obj["itemValue"].(string); ok {
		return v
	}
	return ""
}

// Action is a workflow action that can be invoked against a record.
// Success and Error are set by Invoke so the caller can show the outcome.
type Action struct {
	Invoke  string `json:"invoke"`
	Name    string `json:"name"`
	Success bool   `json:"success,omitempty"`
	Error   bool   `json:"error,omitempty"`
}

// FindAction returns the last action in actions named name.
func FindAction(actions []Action, name string) *Action {
	var match *Action
	for i := range actions {
		if actions[i].Name == name {
			match = &actions[i]
		}
	}
	return match
}

// Sighting categories counted per indicator.
const (
	CategoryAlerts    = "alerts"
	CategoryAssets    = "assets"
	CategoryIncidents = "incidents"
	CategoryEmails    = "emails"
	CategoryEvents    = "events"
)

// SightingCategories lists every category in a stable order.
var SightingCategories = []string{
	CategoryAlerts,
	CategoryAssets,
	CategoryIncidents,
	CategoryEmails,
	CategoryEvents,
}

// Sightings counts the objects related to an indicator.
type Sightings struct {
	Alerts    int `json:"alerts"`
	Assets    int `json:"assets"`
	Incidents int `json:"incidents"`
	Emails    int `json:"emails"`
	Events    int `json:"events"`
}

// Set records count for category. Unknown categories are ignored.
func (s *Sightings) Set(category string, count int) {
	switch category {
	case CategoryAlerts:
		s.Alerts = count
	case CategoryAssets:
		s.Assets = count
	case CategoryIncidents:
		s.Incidents = count
	case CategoryEmails:
		s.Emails = count
	case CategoryEvents:
		s.Events = count
	}
}

// Add accumulates o into s.
func (s *Sightings) Add(o Sightings) {
	s.Alerts += o.Alerts
	s.Assets += o.Assets
	s.Incidents += o.Incidents
	s.Emails += o.Emails
	s.Events += o.Events
}

// Total sums every category.
func (s Sightings) Total() int {
	return s.Alerts + s.Assets + s.Incidents + s.Emails + s.Events
}

// Indicator pairs a raw indicator record with its sighting counts.
type Indicator struct {
	Indicator Record    `json:"indicator"`
	Sightings Sightings `json:"sightings"`
}

// Details is everything the panel needs to render one matched incident.
type Details struct {
	Actions        []Action    `json:"actions"`
	Result         Record      `json:"result"`
	Host           string      `json:"host"`
	NumberOfAlerts int         `json:"numberOfAlerts"`
	Indicators     []Indicator `json:"indicators"`
}

// Data is the payload of a matched lookup result.
type Data struct {
	Summary []string `json:"summary"`
	Details Details  `json:"details"`
}

// LookupResult is one row of lookup output. Data is nil when the entity
// matched no incident.
type LookupResult struct {
	Entity Entity `json:"entity"`
	Data   *Data  `json:"data"`
}
