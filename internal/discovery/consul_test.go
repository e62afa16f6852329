package discovery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/hashicorp/consul/api"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAgent struct {
	mu           sync.Mutex
	registered   *api.AgentServiceRegistration
	deregistered string
	instances    []*api.ServiceEntry
}

func (f *fakeAgent) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agent/self", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]map[string]any{"Config": {"NodeName": "test"}})
	})
	mux.HandleFunc("/v1/agent/service/register", func(w http.ResponseWriter, r *http.Request) {
		var reg api.AgentServiceRegistration
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		f.mu.Lock()
		f.registered = &reg
		f.mu.Unlock()
	})
	mux.HandleFunc("/v1/agent/service/deregister/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deregistered = r.URL.Path[len("/v1/agent/service/deregister/"):]
		f.mu.Unlock()
	})
	mux.HandleFunc("/v1/health/service/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("passing"))
		json.NewEncoder(w).Encode(f.instances)
	})
	return mux
}

func (f *fakeAgent) lastRegistration() *api.AgentServiceRegistration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered
}

func (f *fakeAgent) lastDeregistered() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deregistered
}

func newTestClient(t *testing.T, agent *fakeAgent) *ConsulClient {
	t.Helper()
	srv := httptest.NewServer(agent.handler(t))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	client, err := NewConsulClient(config.ConsulConfig{Enabled: true, Host: u.Hostname(), Port: port}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestRegisterAndDeregister(t *testing.T) {
	agent := &fakeAgent{}
	client := newTestClient(t, agent)

	err := client.Register(ServiceConfig{
		Name:    "inventory-service",
		ID:      "inventory-service-1",
		Address: "10.0.0.5",
		Port:    8081,
		Tags:    []string{"api", "inventory"},
	})
	require.NoError(t, err)

	reg := agent.lastRegistration()
	require.NotNil(t, reg)
	assert.Equal(t, "inventory-service", reg.Name)
	assert.Equal(t, "10.0.0.5", reg.Address)
	assert.Equal(t, "http://10.0.0.5:8081/health", reg.Check.HTTP)

	require.NoError(t, client.Deregister("inventory-service-1"))
	assert.Equal(t, "inventory-service-1", agent.lastDeregistered())
}

func TestGetServiceURL(t *testing.T) {
	agent := &fakeAgent{instances: []*api.ServiceEntry{
		{Node: &api.Node{Address: "10.0.0.9"}, Service: &api.AgentService{Service: "order-service", Port: 8082}},
	}}
	client := newTestClient(t, agent)

	got, err := client.GetServiceURL("order-service")

	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.9:8082", got)
}

func TestGetServiceWithoutHealthyInstances(t *testing.T) {
	client := newTestClient(t, &fakeAgent{})

	_, _, err := client.GetService("order-service")

	assert.ErrorContains(t, err, "no healthy instances of order-service")
}

func TestNewConsulClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	srv.Close()

	_, err := NewConsulClient(config.ConsulConfig{Host: u.Hostname(), Port: port}, zap.NewNop())

	assert.ErrorContains(t, err, "failed to connect to Consul")
}

func TestServiceID(t *testing.T) {
	id := ServiceID("order-service", 8082)

	assert.Regexp(t, `^order-service-.+-8082$`, id)
}
