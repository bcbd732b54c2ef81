package taxonomy

// Builtin returns the OWASP Top 10 tables shipped with the tool. Codes are
// two-digit in every version so a selection can be compared across versions
// by code alone.
func Builtin() []Version {
	return []Version{
		{Key: "2017", Categories: []Category{
			{"A01", "A1: Injection"},
			{"A02", "A2: Broken Authentication"},
			{"A03", "A3: Sensitive Data Exposure"},
			{"A04", "A4: XML External Entities (XXE)"},
			{"A05", "A5: Broken Access Control"},
			{"A06", "A6: Security Misconfiguration"},
			{"A07", "A7: Cross-Site Scripting (XSS)"},
			{"A08", "A8: Insecure Deserialization"},
			{"A09", "A9: Using Components with Known Vulnerabilities"},
			{"A10", "A10: Insufficient Logging & Monitoring"},
		}},
		{Key: "2021", Categories: []Category{
			{"A01", "A01: Broken Access Control"},
			{"A02", "A02: Cryptographic Failures"},
			{"A03", "A03: Injection"},
			{"A04", "A04: Insecure Design"},
			{"A05", "A05: Security Misconfiguration"},
			{"A06", "A06: Vulnerable and Outdated Components"},
			{"A07", "A07: Identification and Authentication Failures"},
			{"A08", "A08: Software and Data Integrity Failures"},
			{"A09", "A09: Security Logging and Monitoring Failures"},
			{"A10", "A10: Server-Side Request Forgery (SSRF)"},
		}},
		{Key: "2025", Categories: []Category{
			{"A01", "A01: Broken Access Control"},
			{"A02", "A02: Cryptographic Failures"},
			{"A03", "A03: Injection"},
			{"A04", "A04: Insecure Design"},
			{"A05", "A05: Security Misconfiguration"},
			{"A06", "A06: Vulnerable and Outdated Components"},
			{"A07", "A07: Identification and Authentication Failures"},
			{"A08", "A08: Software and Data Integrity Failures"},
			{"A09", "A09: Security Logging and Monitoring Failures"},
			{"A10", "A10: Insecure Use of AI"},
		}},
	}
}
