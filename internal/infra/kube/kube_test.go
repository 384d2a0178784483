package kube

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/model"
)

func newTestBackend() *Backend {
	scheme := runtime.NewScheme()
	_ = appsv1.AddToScheme(scheme)
	_ = corev1.AddToScheme(scheme)

	gvrToListKind := map[schema.GroupVersionResource]string{
		ingressRouteGVR: "IngressRouteList",
	}
	return &Backend{
		clientset: fake.NewSimpleClientset(),
		dynamic:   dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind),
	}
}

func deployDemo(t *testing.T, b *Backend) {
	t.Helper()
	image, err := model.ParseImage("nginx:alpine")
	require.NoError(t, err)

	unit := infra.DeploymentUnit{
		AppName:        "demo",
		StatusChangeID: "task-1",
		Services: []model.DeployableService{
			{ServiceConfig: model.ServiceConfig{ServiceName: "web", Image: image, Port: 80}},
		},
	}
	_, err = b.DeployServices(context.Background(), unit)
	require.NoError(t, err)
}

func TestBackend_DeployAndFetch(t *testing.T) {
	b := newTestBackend()
	deployDemo(t, b)

	app, err := b.FetchApp(context.Background(), "demo")
	require.NoError(t, err)
	require.NotNil(t, app)
	require.Len(t, app.Services, 1)
	require.Equal(t, "web", app.Services[0].ServiceName)
}

func TestBackend_ChangeStatusScalesDeployment(t *testing.T) {
	b := newTestBackend()
	deployDemo(t, b)

	svc, err := b.ChangeStatus(context.Background(), "demo", "web", model.ServiceStatusPaused)
	require.NoError(t, err)
	require.NotNil(t, svc)

	d, err := b.clientset.AppsV1().Deployments(namespaceName("demo")).Get(context.Background(), "web", metav1.GetOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 0, *d.Spec.Replicas)
}

func TestBackend_ChangeStatusUnknownServiceReturnsNil(t *testing.T) {
	b := newTestBackend()
	deployDemo(t, b)

	svc, err := b.ChangeStatus(context.Background(), "demo", "missing", model.ServiceStatusPaused)
	require.NoError(t, err)
	require.Nil(t, svc)
}

func TestBackend_StopServicesDeletesNamespace(t *testing.T) {
	b := newTestBackend()
	deployDemo(t, b)

	_, err := b.StopServices(context.Background(), "demo")
	require.NoError(t, err)

	app, err := b.FetchApp(context.Background(), "demo")
	require.NoError(t, err)
	require.Nil(t, app)
}

func TestBackend_UpsertIngressRouteCreatesResource(t *testing.T) {
	b := newTestBackend()
	deployDemo(t, b)

	obj, err := b.dynamic.Resource(ingressRouteGVR).Namespace(namespaceName("demo")).Get(context.Background(), "demo", metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, "IngressRoute", obj.GetKind())
}

func TestBackend_FetchAppsListsManagedNamespaces(t *testing.T) {
	b := newTestBackend()
	deployDemo(t, b)

	apps, err := b.FetchApps(context.Background())
	require.NoError(t, err)
	require.Contains(t, apps, model.AppName("demo"))
}
