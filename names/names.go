// Package names resolves topic, service and parameter names the way ROS
// nodes do: "~name" is private to the node, "/name" is global and a bare
// name is relative to the root namespace. Remaps are applied before and
// after resolution.
package names

import (
	"strings"
)

const (
	privatePrefix = "~"
	separator     = "/"
	remapToken    = ":="
	paramPrefix   = "_"
)

// Namespace returns the node's absolute namespace, "/repbot" for "repbot".
func Namespace(node string) string {
	return separator + strings.Trim(node, separator)
}

// Resolve returns the absolute name for name as seen from node.
func Resolve(node, name string, remaps map[string]string) string {
	if to, ok := remaps[name]; ok {
		name = to
	}

	var resolved string
	switch {
	case strings.HasPrefix(name, privatePrefix):
		resolved = Namespace(node) + separator + strings.TrimLeft(name[1:], separator)
	case strings.HasPrefix(name, separator):
		resolved = name
	default:
		resolved = separator + name
	}

	if to, ok := remaps[resolved]; ok && to != name {
		return Resolve(node, to, nil)
	}
	return resolved
}

// Topic is Resolve without the leading separator, the form brokers expect.
func Topic(node, name string, remaps map[string]string) string {
	return strings.TrimPrefix(Resolve(node, name, remaps), separator)
}

// Args holds the "from:=to" arguments found on a command line.
type Args struct {
	Remaps  map[string]string
	Params  map[string]string
	Unknown []string
}

// ParseArgs splits remap ("a:=b") and private parameter ("_key:=value")
// arguments from the rest. Quotes around parameter values are stripped.
func ParseArgs(args []string) Args {
	parsed := Args{
		Remaps: make(map[string]string),
		Params: make(map[string]string),
	}

	for _, arg := range args {
		split := strings.Split(arg, remapToken)
		if len(split) != 2 || len(split[0]) == 0 {
			parsed.Unknown = append(parsed.Unknown, arg)
			continue
		}

		if strings.HasPrefix(split[0], paramPrefix) {
			value := split[1]
			if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
				value = value[1 : len(value)-1]
			}
			parsed.Params[split[0][1:]] = value
			continue
		}

		parsed.Remaps[split[0]] = split[1]
	}

	return parsed
}
