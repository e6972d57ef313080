package devmgr

import "gopkg.in/yaml.v3"

// fixtureNode is the YAML-friendly shape of a Node, used only by tests
// that describe a device tree as a small YAML document instead of
// building []*Node literals by hand or parsing a real FDT blob (which
// this package never does).
type fixtureNode struct {
	Name            string            `yaml:"name"`
	Compatible      string            `yaml:"compatible"`
	Props           map[string]string `yaml:"props"`
	InterruptParent string            `yaml:"interruptParent"`
}

// ParseFixture decodes a YAML document of the form:
//
//	nodes:
//	  - name: plic0
//	    compatible: riscv,plic0
//	  - name: uart0
//	    compatible: ns16550a
//	    interruptParent: plic0
//
// into the []*Node ProbeAll consumes.
func ParseFixture(data []byte) ([]*Node, error) {
	var doc struct {
		Nodes []fixtureNode `yaml:"nodes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	nodes := make([]*Node, len(doc.Nodes))
	for i, fn := range doc.Nodes {
		nodes[i] = &Node{
			Name:            fn.Name,
			Compatible:      fn.Compatible,
			Props:           fn.Props,
			InterruptParent: fn.InterruptParent,
		}
	}
	return nodes, nil
}
