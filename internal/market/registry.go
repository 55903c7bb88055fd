// Static in-memory goods registry, the default Registry implementation.
package market

// StaticRegistry serves a fixed set of good definitions.
type StaticRegistry struct {
	goods []GoodDef
	index map[string]GoodDef
}

// NewStaticRegistry builds a registry from definitions.
func NewStaticRegistry(goods []GoodDef) *StaticRegistry {
	index := make(map[string]GoodDef, len(goods))
	for _, g := range goods {
		index[g.ID] = g
	}
	return &StaticRegistry{goods: goods, index: index}
}

// Goods returns all definitions.
func (r *StaticRegistry) Goods() []GoodDef { return r.goods }

// Lookup returns the definition for an ID, or false when absent.
func (r *StaticRegistry) Lookup(id string) (GoodDef, bool) {
	g, ok := r.index[id]
	return g, ok
}
