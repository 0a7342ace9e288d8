package topology

import (
	"fmt"
	"strings"
)

// ClusterConfig describes the clustered broker deployment to render.
type ClusterConfig struct {
	// ClusterName names the routing cluster.
	ClusterName string
	// Nodes is the cluster size.
	Nodes int
	// BaseClientPort is node 1's client port; node n listens on base+n-1.
	BaseClientPort int
	// BaseClusterPort is node 1's route port, numbered the same way.
	BaseClusterPort int
	// StoreDir is the per-node storage root; the node name is appended.
	StoreDir string
	// Account is the account holding the three credential users.
	Account string
}

func (c ClusterConfig) withDefaults() ClusterConfig {
	if c.ClusterName == "" {
		c.ClusterName = "chefs-events"
	}
	if c.Nodes <= 0 {
		c.Nodes = 3
	}
	if c.BaseClientPort <= 0 {
		c.BaseClientPort = 4222
	}
	if c.BaseClusterPort <= 0 {
		c.BaseClusterPort = 6222
	}
	if c.StoreDir == "" {
		c.StoreDir = "/var/lib/nats"
	}
	if c.Account == "" {
		c.Account = "FORMS"
	}
	return c
}

// NodeConfig is one rendered server configuration file.
type NodeConfig struct {
	Name    string
	Content string
}

// Render produces one configuration file per cluster node. Every node carries
// the same account block, so the credential-class permissions hold wherever a
// client connects.
func Render(config ClusterConfig) []NodeConfig {
	config = config.withDefaults()

	nodes := make([]NodeConfig, 0, config.Nodes)
	for n := 1; n <= config.Nodes; n++ {
		name := fmt.Sprintf("n%d", n)
		var b strings.Builder
		fmt.Fprintf(&b, "server_name: %s\n", name)
		fmt.Fprintf(&b, "port: %d\n\n", config.BaseClientPort+n-1)
		fmt.Fprintf(&b, "jetstream {\n  store_dir: %q\n}\n\n", config.StoreDir+"/"+name)
		fmt.Fprintf(&b, "cluster {\n")
		fmt.Fprintf(&b, "  name: %s\n", config.ClusterName)
		fmt.Fprintf(&b, "  port: %d\n", config.BaseClusterPort+n-1)
		fmt.Fprintf(&b, "  routes: [\n")
		for peer := 1; peer <= config.Nodes; peer++ {
			if peer == n {
				continue
			}
			fmt.Fprintf(&b, "    nats-route://127.0.0.1:%d\n", config.BaseClusterPort+peer-1)
		}
		fmt.Fprintf(&b, "  ]\n}\n\n")
		b.WriteString(renderAccounts(config.Account))
		nodes = append(nodes, NodeConfig{Name: name + ".conf", Content: b.String()})
	}
	return nodes
}

func renderAccounts(account string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "accounts {\n  %s: {\n    jetstream: enabled\n    users: [\n", account)
	for _, class := range Classes() {
		permissions, _ := ClassPermissions(class)
		fmt.Fprintf(&b, "      {\n        user: %s\n", class)
		fmt.Fprintf(&b, "        permissions: {\n")
		fmt.Fprintf(&b, "          publish: %s\n", renderSubjectList(permissions.Publish))
		fmt.Fprintf(&b, "          subscribe: %s\n", renderSubjectList(permissions.Subscribe))
		fmt.Fprintf(&b, "        }\n      }\n")
	}
	b.WriteString("    ]\n  }\n}\n")
	return b.String()
}

func renderSubjectList(subjects []string) string {
	quoted := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		quoted = append(quoted, fmt.Sprintf("%q", subject))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
