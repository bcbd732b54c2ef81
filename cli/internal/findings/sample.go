package findings

// SampleFindings returns a small fixed report used when the backend cannot
// be reached and the operator opted into offline demo data. Each call
// returns fresh values.
func SampleFindings() []Finding {
	line45, line12 := LineNumber(45), LineNumber(12)
	return AssignIDs([]Finding{
		{
			Severity:       SeverityMajor,
			Title:          "SQL Injection Vulnerability",
			Description:    "User input is directly concatenated into SQL query without proper sanitization.",
			FilePath:       "src/main/java/com/example/UserService.java",
			LineNumber:     &line45,
			OwaspCategory:  "A03:2021-Injection",
			CweID:          "CWE-89",
			Tags:           []string{"injection", "database", "security"},
			CodeSnippet:    `String query = "SELECT * FROM users WHERE username = '" + username + "'";`,
			Recommendation: "Use parameterized queries (PreparedStatement) instead of string concatenation.",
			FixSuggestion:  "PreparedStatement ps = connection.prepareStatement(\"SELECT * FROM users WHERE username = ?\");\nps.setString(1, username);",
		},
		{
			Severity:       SeverityMinor,
			Title:          "Hardcoded Credentials",
			Description:    "Database password is hardcoded in source code.",
			FilePath:       "src/main/resources/application.properties",
			LineNumber:     &line12,
			OwaspCategory:  "A02:2021-Cryptographic Failures",
			CweID:          "CWE-798",
			Tags:           []string{"credentials", "configuration"},
			CodeSnippet:    "spring.datasource.password=admin123",
			Recommendation: "Store credentials in environment variables or secure vault.",
			FixSuggestion:  "Use ${DB_PASSWORD} and set environment variable.",
		},
	})
}
