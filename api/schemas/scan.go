package schemas

// -- Normalized Scan Data Model --

// These types are the shared currency of the pipeline: the normalizer emits
// them, the threat map ingests them, and the report digest reads them back.
// A ScanRecord is immutable once produced; ingestion never mutates it.

// Service describes the software identified behind an open port.
type Service struct {
	Name    string `json:"name"`    // Product name as reported by the scanner (e.g., "nginx").
	Version string `json:"version"` // Version string, may be empty when unfingerprinted.
}

// Vulnerability is a single weakness attributed to a service.
type Vulnerability struct {
	// CVEID is the CVE identifier when one is known. Optional; an empty
	// value means the finding has no assigned CVE.
	CVEID        string  `json:"cve_id,omitempty"`
	Description  string  `json:"description"`
	CVSS         float64 `json:"cvss"`
	IsVulnerable bool    `json:"is_vulnerable"`
}

// Port is one network port observed on the scanned target, together with the
// service fingerprint and any vulnerabilities attributed to that service.
type Port struct {
	Number          int             `json:"port"`
	Protocol        string          `json:"protocol"` // Transport protocol, e.g. "tcp" or "udp".
	Service         Service         `json:"service"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// ScanRecord is the normalized structured representation of one host's scan
// findings. Host and IP may each be empty when the underlying tool output did
// not surface them; consumers must tolerate either being absent.
type ScanRecord struct {
	Host  string `json:"host"`
	IP    string `json:"ip"`
	Ports []Port `json:"ports"`
}

// NormalizedEnvelope is the wire shape the result normalizer asks the model
// to produce: a single object whose "result" key holds the record list.
type NormalizedEnvelope struct {
	Result []ScanRecord `json:"result"`
}

// ToolInvocation captures one tool execution as the runner reports it back to
// the orchestration loop: the exact command that ran and its raw output.
type ToolInvocation struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}
