package tools

import (
	"path/filepath"
	"strings"
)

// Build turns a request into one invocation per descriptor stage. Every
// stage is validated before anything is returned, so a missing parameter in
// a later stage still prevents the first one from running.
func Build(root string, d Descriptor, req Request) ([]Invocation, error) {
	values := map[SlotKind]string{
		SlotFile:     strings.TrimSpace(req.TargetFile),
		SlotBound:    strings.TrimSpace(req.Bound),
		SlotInputDir: strings.TrimSpace(req.InputDir),
	}

	invs := make([]Invocation, 0, len(d.Stages))
	for _, st := range d.Stages {
		argv := make([]string, 0, len(st.Args)+1)
		argv = append(argv, resolve(root, st.Script))
		for _, sl := range st.Args {
			if sl.Kind == SlotInstallPath {
				argv = append(argv, resolve(root, sl.Path))
				continue
			}
			v := values[sl.Kind]
			if v == "" {
				if sl.Optional {
					continue
				}
				return nil, &MissingParameterError{Tool: d.ID, Slot: sl.Kind}
			}
			argv = append(argv, v)
		}
		invs = append(invs, Invocation{Stage: st.Name, Argv: argv, Streaming: d.Streaming})
	}
	return invs, nil
}

func resolve(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}
