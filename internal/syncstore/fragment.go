package syncstore

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/0xkanth/evmindex/pkg/models"
)

// ExpandLogFilter expands a filter's array-valued slots into the cross
// product of fully specialized fragments (spec §3: "a filter expands into
// the cross product of its arrays").
func ExpandLogFilter(f models.LogFilter) []models.LogFilterFragment {
	addresses := orWildcard(f.Addresses)
	t0 := orWildcard(f.Topics0)
	t1 := orWildcard(f.Topics1)
	t2 := orWildcard(f.Topics2)
	t3 := orWildcard(f.Topics3)

	var out []models.LogFilterFragment
	for _, addr := range addresses {
		for _, x0 := range t0 {
			for _, x1 := range t1 {
				for _, x2 := range t2 {
					for _, x3 := range t3 {
						frag := models.LogFilterFragment{
							ChainID:       f.ChainID,
							Address:       normalize(addr),
							Topic0:        normalize(x0),
							Topic1:        normalize(x1),
							Topic2:        normalize(x2),
							Topic3:        normalize(x3),
							EventSelector: normalize(x0),
						}
						frag.ID = fingerprintLogFilter(frag)
						out = append(out, frag)
					}
				}
			}
		}
	}
	return out
}

// ExpandFactory expands a factory's child-side topic0 array (if any) into
// fragments; factories have no address array since a factory source names
// exactly one creator contract. Each fragment keeps EventSelector (the
// factory's own creation-log topic0, used to discover children) distinct
// from ChildEventSelector (the discovered children's own event topic0,
// used to match their logs) — the two are never the same event.
func ExpandFactory(f models.Factory) []models.FactoryFragment {
	selectors := orWildcard(f.ChildTopics0)

	var out []models.FactoryFragment
	for _, sel := range selectors {
		frag := models.FactoryFragment{
			ChainID:              f.ChainID,
			Address:              normalize(f.Address),
			EventSelector:        normalize(f.EventSelector),
			ChildAddressLocation: f.ChildAddressLocation,
			ChildEventSelector:   normalize(sel),
		}
		frag.ID = fingerprintFactory(frag)
		out = append(out, frag)
	}
	return out
}

func orWildcard(vs []string) []string {
	if len(vs) == 0 {
		return []string{""}
	}
	return vs
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func fingerprintLogFilter(f models.LogFilterFragment) string {
	h := fnv.New128a()
	fmt.Fprintf(h, "logfilter|%d|%s|%s|%s|%s|%s", f.ChainID, f.Address, f.Topic0, f.Topic1, f.Topic2, f.Topic3)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func fingerprintFactory(f models.FactoryFragment) string {
	h := fnv.New128a()
	fmt.Fprintf(h, "factory|%d|%s|%s|%s|%s", f.ChainID, f.Address, f.EventSelector, f.ChildAddressLocation, f.ChildEventSelector)
	return fmt.Sprintf("%x", h.Sum(nil))
}
