package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// JavaClassName is the public class name javac expects for MyClass.java.
const JavaClassName = "MyClass"

var publicClassPattern = regexp.MustCompile(`public class \w+`)

// Normalize makes a java submission compile under the registry's fixed file
// name. Other languages are returned unchanged.
//
// It is a text heuristic, not a parser: only the first "public class X" is
// renamed, and an occurrence inside a string literal or comment is renamed
// just the same.
func Normalize(spec LanguageSpec, source string) string {
	if spec.ID != LanguageJava {
		return source
	}

	required := "public class " + JavaClassName
	switch {
	case strings.Contains(source, required):
		return source
	case strings.Contains(source, "public class"):
		loc := publicClassPattern.FindStringIndex(source)
		if loc == nil {
			// "public class" followed by something that is not an identifier.
			return source
		}
		return source[:loc[0]] + required + source[loc[1]:]
	default:
		return fmt.Sprintf("public class %s { public static void main(String[] args) { %s } }", JavaClassName, source)
	}
}
