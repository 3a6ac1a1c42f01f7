package main

// examples are the snippets :example loads, by language and key.
var examples = map[string]map[string]string{
	"javascript": {
		"hello": `print("Hello, world!");
`,
		"fibonacci": `function fib(n) {
  return n < 2 ? n : fib(n - 1) + fib(n - 2);
}
for (let i = 0; i < 10; i++) {
  print(i, fib(i));
}
`,
		"streams": `console.log("to stdout");
console.error("to stderr");
"final value"
`,
		"error": `print("before the error");
null.property;
`,
		"kv": `const runs = Number(goru.kv.get("runs", "0")) + 1;
goru.kv.set("runs", runs);
print("run number", runs);
`,
		"packages": `const leftPad = require("left-pad");
print(leftPad("42", 5, "0"));
`,
	},
	"python": {
		"hello": `print("Hello, world!")
`,
		"fibonacci": `def fib(n):
    return n if n < 2 else fib(n - 1) + fib(n - 2)

for i in range(10):
    print(i, fib(i))
`,
		"streams": `import sys
print("to stdout")
print("to stderr", file=sys.stderr)
"final value"
`,
		"error": `print("before the error")
raise ValueError("something went wrong")
`,
		"kv": `runs = int(goru.kv.get("runs", "0")) + 1
goru.kv.set("runs", runs)
print("run number", runs)
`,
		"packages": `import six
print(six.PY3)
`,
	},
}
