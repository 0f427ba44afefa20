package verify

import (
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/inventory"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

// Pins checks that every declared package is installed at exactly its
// pinned version or commit. OS packages are checked only when inv has an
// OS inventory; unpinned OS exemptions only need to be present.
func Pins(m *manifest.Manifest, inv *inventory.Inventory) (Report, error) {
	r := Report{Check: CheckPins}

	py, err := m.PythonPackages()
	if err != nil {
		return r, err
	}
	for _, spec := range py {
		installed, ok := inv.Lookup(spec)
		if !ok {
			r.add(Finding{Kind: KindMissing, Package: spec.Name, Expected: expected(spec)})
			continue
		}
		switch spec.Kind {
		case pin.KindSource:
			checkSource(&r, spec, installed)
		default:
			if !spec.Matches(installed.Version) {
				r.add(Finding{
					Kind:      KindVersion,
					Package:   spec.Name,
					Expected:  spec.Version,
					Actual:    installed.Version,
					Direction: pin.DirectionOf(spec.Version, installed.Version),
				})
			}
		}
	}

	osSpecs, err := m.OSPackages()
	if err != nil {
		return r, err
	}
	switch {
	case len(osSpecs) == 0:
	case len(inv.OS) == 0:
		r.Notes = append(r.Notes, "no OS package inventory collected; OS pins not checked")
	default:
		for _, spec := range osSpecs {
			installed, ok := inv.Lookup(spec)
			if !ok {
				r.add(Finding{Kind: KindMissing, Package: spec.Name, OS: true, Expected: expected(spec)})
				continue
			}
			if spec.Version != "" && !spec.Matches(installed.Version) {
				r.add(Finding{
					Kind:     KindVersion,
					Package:  spec.Name,
					OS:       true,
					Expected: spec.Version,
					Actual:   installed.Version,
				})
			}
		}
	}

	r.sort()
	return r, nil
}

func checkSource(r *Report, spec pin.Spec, installed inventory.Installed) {
	want := spec.Source
	got := installed.Source
	if got == nil {
		r.add(Finding{Kind: KindSource, Package: spec.Name, Expected: want.String(), Actual: installed.Version})
		return
	}
	if !sameURL(want.URL, got.URL) || want.Revision != got.Revision {
		r.add(Finding{Kind: KindSource, Package: spec.Name, Expected: want.String(), Actual: got.String()})
	}
}

func expected(spec pin.Spec) string {
	switch {
	case spec.Kind == pin.KindSource && spec.Source != nil:
		return spec.Source.String()
	case spec.Version == "":
		return "any version"
	default:
		return spec.Version
	}
}
