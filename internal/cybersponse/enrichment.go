package cybersponse

import (
	"fmt"
	"strconv"
	"strings"
)

// EnrichmentFields flattens lookup results into the string map published on
// the enrichments stream. Entities without a match contribute nothing.
func EnrichmentFields(results []LookupResult) map[string]string {
	fields := make(map[string]string)

	type aggregate struct {
		names      []string
		severities []string
		summaries  []string
		details    Details
	}
	byValue := make(map[string]*aggregate)
	var order []string

	for _, res := range results {
		if res.Data == nil {
			continue
		}
		agg, ok := byValue[res.Entity.Value]
		if !ok {
			agg = &aggregate{details: res.Data.Details}
			byValue[res.Entity.Value] = agg
			order = append(order, res.Entity.Value)
		}
		if name := res.Data.Details.Result.String("name"); name != "" {
			agg.names = append(agg.names, name)
		}
		if sev := res.Data.Details.Result.PicklistValue("severity"); sev != "" {
			agg.severities = append(agg.severities, sev)
		}
		agg.summaries = append(agg.summaries, strings.Join(res.Data.Summary, ", "))
	}

	for _, value := range order {
		agg := byValue[value]
		prefix := "cybersponse_" + sanitizeKey(value)

		fields[prefix+"_incidents"] = strconv.Itoa(len(agg.summaries))
		fields[prefix+"_alerts"] = strconv.Itoa(agg.details.NumberOfAlerts)
		fields[prefix+"_summary"] = strings.Join(agg.summaries, " | ")
		if len(agg.names) > 0 {
			fields[prefix+"_incident_names"] = strings.Join(agg.names, ",")
		}
		if len(agg.severities) > 0 {
			fields[prefix+"_severities"] = strings.Join(deduplicate(agg.severities), ",")
		}

		var total Sightings
		for _, ind := range agg.details.Indicators {
			total.Add(ind.Sightings)
		}
		fields[prefix+"_indicators"] = strconv.Itoa(len(agg.details.Indicators))
		if len(agg.details.Indicators) > 0 {
			fields[prefix+"_sightings"] = fmt.Sprintf("alerts=%d,assets=%d,incidents=%d,emails=%d,events=%d",
				total.Alerts, total.Assets, total.Incidents, total.Emails, total.Events)
			fields[prefix+"_sightings_total"] = strconv.Itoa(total.Total())
		}
		if agg.details.Host != "" {
			fields[prefix+"_host"] = agg.details.Host
		}
	}

	return fields
}

// sanitizeKey replaces characters that are awkward in field names.
func sanitizeKey(value string) string {
	return strings.NewReplacer(".", "_", ":", "_", "/", "_", " ", "_").Replace(value)
}

func deduplicate(values []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}
