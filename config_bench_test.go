package authz_test

import (
	"strconv"
	"testing"

	"github.com/oarkflow/wsauthz"
	"gopkg.in/yaml.v3"
)

// Generate test config with N resources and roles
func generateTestConfig(numResources, numRoles int) *authz.Config {
	b := authz.NewConfigBuilder().Owner(authz.OwnerRole)
	for i := 0; i < numResources; i++ {
		b.AddResource(authz.Resource("res"+strconv.Itoa(i)), "read", "create", "update", "delete")
	}
	for i := 0; i < numRoles; i++ {
		res := "res" + strconv.Itoa(i%numResources)
		b.AddRole("role"+strconv.Itoa(i), res+":read", res+":update")
		b.AssignRole("user"+strconv.Itoa(i), "ws-1", "role"+strconv.Itoa(i))
	}
	cfg, _ := b.Build()
	return cfg
}

// Benchmark DSL Parsing
func BenchmarkDSLParse(b *testing.B) {
	dsl := []byte(`
resource expense read,create,update,delete
resource wallet read,transfer
owner owner
role viewer expense:read,wallet:read
role editor expense:*
grant alice ws-1 roles:editor
engine cache_ttl=5000
`)

	parser := authz.NewDSLParser()
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = parser.Parse(dsl)
	}
}

// Benchmark DSL Encoding
func BenchmarkDSLEncode(b *testing.B) {
	cfg := generateTestConfig(10, 5)
	encoder := authz.NewDSLEncoder()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = encoder.Encode(cfg)
	}
}

// Benchmark YAML Parsing
func BenchmarkYAMLParse(b *testing.B) {
	cfg := generateTestConfig(10, 5)
	data, _ := yaml.Marshal(cfg)
	loader := authz.NewConfigLoader()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = loader.LoadYAML(data)
	}
}

// Benchmark Bootstrap of a large statement
func BenchmarkBootstrap(b *testing.B) {
	cfg := generateTestConfig(100, 50)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, _, err := authz.Bootstrap(cfg); err != nil {
			b.Fatal(err)
		}
	}
}
