package voucher

// Catalog is an ordered set of rules addressed by case-insensitive code.
type Catalog struct {
	rules []Rule
	index map[string]int
}

// NewCatalog builds a catalog. A later rule with the same code replaces the earlier
// one in place.
func NewCatalog(rules ...Rule) *Catalog {
	c := &Catalog{index: make(map[string]int, len(rules))}
	for _, rule := range rules {
		code := NormalizeCode(rule.Code)
		if code == "" {
			continue
		}
		rule.Code = code
		if pos, ok := c.index[code]; ok {
			c.rules[pos] = rule
			continue
		}
		c.index[code] = len(c.rules)
		c.rules = append(c.rules, rule)
	}
	return c
}

// Lookup returns the rule for code.
func (c *Catalog) Lookup(code string) (Rule, bool) {
	pos, ok := c.position(code)
	if !ok {
		return Rule{}, false
	}
	return c.rules[pos], true
}

// Rules returns the rules in catalog order.
func (c *Catalog) Rules() []Rule {
	if c == nil {
		return nil
	}
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Len reports the number of rules.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}

func (c *Catalog) position(code string) (int, bool) {
	if c == nil {
		return 0, false
	}
	pos, ok := c.index[NormalizeCode(code)]
	return pos, ok
}
