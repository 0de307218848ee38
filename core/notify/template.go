package notify

import (
	"strings"

	"serima/config"
	"serima/core/store"
)

const (
	VarIncidentID       = "#INCIDENT_ID#"
	VarNotificationDate = "#INCIDENT_NOTIFICATION_DATE#"
	VarCompany          = "#COMPANY#"
	VarRegulation       = "#REGULATION#"
	VarRegulator        = "#REGULATOR#"
	VarSiteName         = "#SITE_NAME#"
	VarPublicURL        = "#PUBLIC_URL#"
	VarContactName      = "#CONTACT_NAME#"
)

// Variables collects the placeholder values for one incident. bundle and cfg
// may be nil, their placeholders then render empty.
func Variables(inc *store.Incident, bundle *store.SectorRegulation, cfg *config.AppConfig) map[string]string {
	vars := map[string]string{
		VarIncidentID:       inc.IncidentID,
		VarNotificationDate: inc.NotificationDate.UTC().Format("2006-01-02 15:04"),
		VarCompany:          inc.CompanyName,
		VarContactName:      inc.Contact.FullName(),
		VarRegulation:       "",
		VarRegulator:        "",
		VarSiteName:         "",
		VarPublicURL:        "",
	}
	if bundle != nil {
		vars[VarRegulation] = bundle.RegulationLabel
		vars[VarRegulator] = bundle.RegulatorName
	}
	if cfg != nil {
		vars[VarSiteName] = cfg.SiteName
		vars[VarPublicURL] = strings.TrimRight(cfg.PublicURL, "/")
	}
	return vars
}

// Render substitutes every known placeholder. Unknown #WORDS# stay as they
// are.
func Render(tpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
