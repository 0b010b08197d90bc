package resolver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"apphost/internal/errors"
	"apphost/internal/graph"
	"apphost/internal/resource"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T) *graph.Graph {
	t.Helper()
	b := resource.NewBuilder()
	api := b.AddProcess("api", "api-server").
		WithHTTPSEndpoint(7001, "PORT").
		WithHTTPSHealthCheck("/health")
	proxy := b.AddContainer("proxy", "dev-proxy").
		WithEndpoint(resource.Endpoint{Name: "http", Scheme: "http", TargetPort: 8000}).
		WithArgs(resource.Literal("--watch"), api.Endpoint("https").Append("/*")).
		WaitFor(api)
	b.AddProcess("web", "npm", "start").
		WithHTTPEndpoint(0, "PORT").
		WithEnvironment("HTTPS_PROXY", proxy.Endpoint("http")).
		WithEnvironment("MODE", resource.Literal("dev")).
		WithReference(api).
		WaitFor(proxy)

	resources, err := b.Build()
	require.NoError(t, err)
	g, err := graph.Build(resources)
	require.NoError(t, err)
	return g
}

var (
	apiHTTPS  = resource.EndpointRef{Resource: "api", Endpoint: "https"}
	proxyHTTP = resource.EndpointRef{Resource: "proxy", Endpoint: "http"}
	webHTTP   = resource.EndpointRef{Resource: "web", Endpoint: "http"}
)

func TestNew_BindsStaticEndpoints(t *testing.T) {
	r := New(buildGraph(t))

	b, ok := r.Lookup(apiHTTPS)
	require.True(t, ok)
	assert.Equal(t, "https://localhost:7001", b.URL())

	_, ok = r.Lookup(proxyHTTP)
	assert.False(t, ok, "ephemeral endpoints are unknown until launch")
	_, ok = r.Lookup(webHTTP)
	assert.False(t, ok)
}

func TestAwait_BlocksUntilBind(t *testing.T) {
	r := New(buildGraph(t))

	result := make(chan resource.Binding, 1)
	go func() {
		b, err := r.Await(context.Background(), proxyHTTP)
		if err == nil {
			result <- b
		}
		close(result)
	}()

	select {
	case <-result:
		t.Fatal("await returned before bind")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, r.Bind("proxy", map[string]resource.Binding{
		"http": {Scheme: "http", Host: "localhost", Port: 49152},
	}))

	select {
	case b, ok := <-result:
		require.True(t, ok)
		assert.Equal(t, 49152, b.Port)
	case <-time.After(time.Second):
		t.Fatal("await did not observe bind")
	}
}

func TestBind_FirstValueWins(t *testing.T) {
	r := New(buildGraph(t))

	require.NoError(t, r.Bind("proxy", map[string]resource.Binding{"http": {Scheme: "http", Host: "localhost", Port: 1111}}))
	require.NoError(t, r.Bind("proxy", map[string]resource.Binding{"http": {Scheme: "http", Host: "localhost", Port: 2222}}))

	b, ok := r.Lookup(proxyHTTP)
	require.True(t, ok)
	assert.Equal(t, 1111, b.Port)
}

func TestBind_Errors(t *testing.T) {
	r := New(buildGraph(t))

	err := r.Bind("missing", nil)
	assert.True(t, errors.HasCode(err, errors.ErrResourceNotFound))

	err = r.Bind("proxy", map[string]resource.Binding{"grpc": {}})
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAwait_ManyConsumersSeeSameValue(t *testing.T) {
	r := New(buildGraph(t))

	const waiters = 16
	var wg sync.WaitGroup
	urls := make([]string, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := r.Await(context.Background(), proxyHTTP)
			if err == nil {
				urls[i] = b.URL()
			}
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Bind("proxy", map[string]resource.Binding{"http": {Scheme: "http", Host: "localhost", Port: 40000}}))
	wg.Wait()

	for _, u := range urls {
		assert.Equal(t, "http://localhost:40000", u)
	}
}

func TestFail_PropagatesToWaiters(t *testing.T) {
	r := New(buildGraph(t))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := r.Await(context.Background(), proxyHTTP)
			errs <- err
		}()
	}

	cause := fmt.Errorf("container exited")
	r.Fail("proxy", cause)

	for i := 0; i < 2; i++ {
		err := <-errs
		var unresolved *errors.EndpointUnresolvedError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, "proxy", unresolved.Producer)
		assert.Equal(t, "http", unresolved.Endpoint)
		assert.ErrorIs(t, err, cause)
	}
}

func TestFail_DoesNotOverrideBoundEndpoint(t *testing.T) {
	r := New(buildGraph(t))
	r.Fail("api", fmt.Errorf("unhealthy"))

	b, err := r.Await(context.Background(), apiHTTPS)
	require.NoError(t, err)
	assert.Equal(t, 7001, b.Port)
}

func TestAwait_ContextCancelled(t *testing.T) {
	r := New(buildGraph(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Await(ctx, proxyHTTP)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwait_UndeclaredEndpoint(t *testing.T) {
	r := New(buildGraph(t))
	_, err := r.Await(context.Background(), resource.EndpointRef{Resource: "api", Endpoint: "grpc"})
	var unresolved *errors.EndpointUnresolvedError
	require.ErrorAs(t, err, &unresolved)
}

func TestSubscribe_CalledExactlyOnce(t *testing.T) {
	r := New(buildGraph(t))

	var mu sync.Mutex
	calls := 0
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		r.Subscribe(proxyHTTP, func(b resource.Binding, err error) {
			defer wg.Done()
			assert.NoError(t, err)
			assert.Equal(t, 5000, b.Port)
			mu.Lock()
			calls++
			mu.Unlock()
		})
	}

	require.NoError(t, r.Bind("proxy", map[string]resource.Binding{"http": {Scheme: "http", Host: "localhost", Port: 5000}}))
	r.Fail("proxy", fmt.Errorf("late failure"))
	wg.Wait()
	assert.Equal(t, 3, calls)
}

func TestSubscribe_AlreadyBound(t *testing.T) {
	r := New(buildGraph(t))
	got := make(chan string, 1)
	r.Subscribe(apiHTTPS, func(b resource.Binding, err error) {
		got <- b.URL()
	})
	assert.Equal(t, "https://localhost:7001", <-got)
}

func TestExpand(t *testing.T) {
	g := buildGraph(t)
	r := New(g)

	proxy, _ := g.Resource("proxy")
	args, err := r.ExpandAll(context.Background(), "proxy", proxy.Args)
	require.NoError(t, err)
	assert.Equal(t, []string{"--watch", "https://localhost:7001/*"}, args)
}

func TestExpand_UnresolvedNamesConsumer(t *testing.T) {
	r := New(buildGraph(t))
	r.Fail("proxy", fmt.Errorf("launch failed"))

	_, err := r.Expand(context.Background(), "web", resource.Ref("proxy", "http"))
	var unresolved *errors.EndpointUnresolvedError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "web", unresolved.Consumer)
	assert.Contains(t, err.Error(), `required by "web"`)
}

func TestEnvironment(t *testing.T) {
	g := buildGraph(t)
	r := New(g)
	require.NoError(t, r.Bind("proxy", map[string]resource.Binding{"http": {Scheme: "http", Host: "localhost", Port: 45000}}))

	web, _ := g.Resource("web")
	env, err := r.Environment(context.Background(), web)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"HTTPS_PROXY=http://localhost:45000",
		"MODE=dev",
		"services__api__https__0=https://localhost:7001",
	}, env, "ephemeral port variables are left to the launcher")

	api, _ := g.Resource("api")
	env, err = r.Environment(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, []string{"PORT=7001"}, env)
}

func TestClose_ReleasesWaiters(t *testing.T) {
	r := New(buildGraph(t))
	done := make(chan error, 1)
	go func() {
		_, err := r.Await(context.Background(), webHTTP)
		done <- err
	}()

	r.Close()
	err := <-done
	assert.True(t, errors.HasCode(err, errors.ErrEndpointUnresolved))
	assert.Contains(t, err.Error(), "shutting down")
}

func TestServiceKey(t *testing.T) {
	assert.Equal(t, "services__apiservice__https__0", ServiceKey("apiservice", "https"))
}
