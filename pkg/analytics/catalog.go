package analytics

import (
	"github.com/lucid-vigil/secops/pkg/types"
)

// Framework identifiers used by the control catalog and compliance playbooks.
const (
	FrameworkNISTCSF  = "NIST CSF"
	FrameworkIEC62443 = "IEC 62443"
	FrameworkCIS      = "CIS"
	FrameworkISO27001 = "ISO 27001"
)

// Catalog is the fixed control catalog assessed by the compliance monitors.
var Catalog = []types.ComplianceControl{
	{ID: "nist-id-am-1", Framework: FrameworkNISTCSF, ControlID: "ID.AM-1", Title: "Physical devices and systems are inventoried"},
	{ID: "nist-pr-ac-1", Framework: FrameworkNISTCSF, ControlID: "PR.AC-1", Title: "Identities and credentials are managed"},
	{ID: "nist-pr-ds-1", Framework: FrameworkNISTCSF, ControlID: "PR.DS-1", Title: "Data-at-rest is protected"},
	{ID: "nist-de-cm-1", Framework: FrameworkNISTCSF, ControlID: "DE.CM-1", Title: "The network is monitored to detect potential events"},
	{ID: "nist-rs-rp-1", Framework: FrameworkNISTCSF, ControlID: "RS.RP-1", Title: "Response plan is executed during or after an incident"},
	{ID: "iec-sr-1-1", Framework: FrameworkIEC62443, ControlID: "SR 1.1", Title: "Human user identification and authentication"},
	{ID: "iec-sr-3-1", Framework: FrameworkIEC62443, ControlID: "SR 3.1", Title: "Communication integrity"},
	{ID: "iec-sr-5-1", Framework: FrameworkIEC62443, ControlID: "SR 5.1", Title: "Network segmentation"},
	{ID: "iec-sr-7-6", Framework: FrameworkIEC62443, ControlID: "SR 7.6", Title: "Network and security configuration settings"},
	{ID: "cis-1", Framework: FrameworkCIS, ControlID: "CIS 1", Title: "Inventory and control of enterprise assets"},
	{ID: "cis-4", Framework: FrameworkCIS, ControlID: "CIS 4", Title: "Secure configuration of enterprise assets and software"},
	{ID: "cis-7", Framework: FrameworkCIS, ControlID: "CIS 7", Title: "Continuous vulnerability management"},
	{ID: "iso-a-8-2", Framework: FrameworkISO27001, ControlID: "A.8.2", Title: "Privileged access rights"},
	{ID: "iso-a-8-16", Framework: FrameworkISO27001, ControlID: "A.8.16", Title: "Monitoring activities"},
}

var environmentFrameworks = map[types.Environment][]string{
	types.EnvironmentIT:    {FrameworkNISTCSF, FrameworkCIS, FrameworkISO27001},
	types.EnvironmentOT:    {FrameworkNISTCSF, FrameworkIEC62443},
	types.EnvironmentCloud: {FrameworkNISTCSF, FrameworkCIS, FrameworkISO27001},
}

// CatalogFor returns the controls relevant to an environment. Unknown
// environments get the whole catalog.
func CatalogFor(env types.Environment) []types.ComplianceControl {
	frameworks, ok := environmentFrameworks[env]
	if !ok {
		return append([]types.ComplianceControl(nil), Catalog...)
	}
	var out []types.ComplianceControl
	for _, c := range Catalog {
		for _, f := range frameworks {
			if c.Framework == f {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
