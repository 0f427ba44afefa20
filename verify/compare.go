package verify

import (
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/inventory"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

// Reproducible checks that two builds from identical inputs installed the
// same package set. OS packages are compared only when both inventories
// have them.
func Reproducible(a, b *inventory.Inventory) Report {
	r := Report{Check: CheckReproducible}
	diff(&r, a.Python, b.Python, false, nil)
	if len(a.OS) > 0 && len(b.OS) > 0 {
		diff(&r, a.OS, b.OS, true, nil)
	} else if len(a.OS) > 0 || len(b.OS) > 0 {
		r.Notes = append(r.Notes, "OS package inventory missing from one build; OS packages not compared")
	}
	r.sort()
	return r
}

// Isolation checks that re-pinning the packages named in changed altered no
// other Python package. A finding here means either a genuine dependency
// conflict forced the change or the installer resolved more than it should.
func Isolation(before, after *inventory.Inventory, changed ...string) Report {
	r := Report{Check: CheckIsolation}
	skip := make(map[string]bool, len(changed))
	for _, name := range changed {
		skip[pin.Normalize(name)] = true
	}
	diff(&r, before.Python, after.Python, false, skip)
	r.sort()
	return r
}

func diff(r *Report, a, b map[string]inventory.Installed, isOS bool, skip map[string]bool) {
	for key, pa := range a {
		if skip[key] {
			continue
		}
		pb, ok := b[key]
		if !ok {
			r.add(Finding{Kind: KindRemoved, Package: pa.Name, OS: isOS, Expected: pa.Version})
			continue
		}
		if pa.Source != nil || pb.Source != nil {
			if !sameSource(pa.Source, pb.Source) {
				r.add(Finding{Kind: KindSource, Package: pa.Name, OS: isOS, Expected: sourceString(pa), Actual: sourceString(pb)})
			}
			continue
		}
		if pa.Version != pb.Version {
			f := Finding{Kind: KindVersion, Package: pa.Name, OS: isOS, Expected: pa.Version, Actual: pb.Version}
			if !isOS {
				f.Direction = pin.DirectionOf(pa.Version, pb.Version)
			}
			r.add(f)
		}
	}
	for key, pb := range b {
		if skip[key] {
			continue
		}
		if _, ok := a[key]; !ok {
			r.add(Finding{Kind: KindAdded, Package: pb.Name, OS: isOS, Actual: pb.Version})
		}
	}
}

func sameSource(a, b *pin.Source) bool {
	if a == nil || b == nil {
		return a == b
	}
	return sameURL(a.URL, b.URL) && a.Revision == b.Revision
}

func sourceString(p inventory.Installed) string {
	if p.Source == nil {
		return p.Version
	}
	return p.Source.String()
}
