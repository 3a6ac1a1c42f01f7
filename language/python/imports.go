package python

import (
	"regexp"
	"strings"
)

var (
	importLine = regexp.MustCompile(`^\s*import\s+(.+)$`)
	fromLine   = regexp.MustCompile(`^\s*from\s+([A-Za-z_][\w.]*)\s+import\b`)
)

// stdlibModules are importable without installing anything.
var stdlibModules = map[string]bool{
	"__future__": true, "abc": true, "argparse": true, "array": true, "ast": true,
	"asyncio": true, "base64": true, "binascii": true, "bisect": true, "builtins": true,
	"calendar": true, "cmath": true, "collections": true, "contextlib": true, "copy": true,
	"csv": true, "dataclasses": true, "datetime": true, "decimal": true, "difflib": true,
	"enum": true, "errno": true, "fnmatch": true, "fractions": true, "functools": true,
	"gc": true, "getopt": true, "glob": true, "gzip": true, "hashlib": true,
	"heapq": true, "hmac": true, "html": true, "http": true, "importlib": true,
	"inspect": true, "io": true, "ipaddress": true, "itertools": true, "json": true,
	"keyword": true, "locale": true, "logging": true, "math": true, "numbers": true,
	"operator": true, "os": true, "pathlib": true, "pickle": true, "platform": true,
	"pprint": true, "random": true, "re": true, "secrets": true, "shlex": true,
	"shutil": true, "signal": true, "socket": true, "statistics": true, "string": true,
	"struct": true, "subprocess": true, "sys": true, "tempfile": true, "textwrap": true,
	"threading": true, "time": true, "timeit": true, "token": true, "tokenize": true,
	"traceback": true, "types": true, "typing": true, "unicodedata": true, "unittest": true,
	"urllib": true, "uuid": true, "warnings": true, "weakref": true, "xml": true,
	"zipfile": true, "zlib": true, "zoneinfo": true, "goru": true,
}

// distributions maps import names to the PyPI distribution that provides
// them, where the two differ.
var distributions = map[string]string{
	"attr":     "attrs",
	"bs4":      "beautifulsoup4",
	"dateutil": "python-dateutil",
	"yaml":     "PyYAML",
	"dotenv":   "python-dotenv",
	"jwt":      "PyJWT",
}

func distribution(module string) string {
	if dist, ok := distributions[module]; ok {
		return dist
	}
	return module
}

// parseImports returns the top-level third-party modules code imports, in
// order of first appearance.
func parseImports(code string) []string {
	var names []string
	add := func(module string) {
		top, _, _ := strings.Cut(strings.TrimSpace(module), ".")
		if top == "" || stdlibModules[top] || strings.HasPrefix(top, "_") {
			return
		}
		names = append(names, top)
	}

	for _, line := range strings.Split(code, "\n") {
		line, _, _ = strings.Cut(line, "#")
		if m := fromLine.FindStringSubmatch(line); m != nil {
			add(m[1])
			continue
		}
		if m := importLine.FindStringSubmatch(line); m != nil {
			for _, part := range strings.Split(m[1], ",") {
				module, _, _ := strings.Cut(strings.TrimSpace(part), " ")
				add(module)
			}
		}
	}
	return names
}
