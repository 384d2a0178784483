// Package kube implements infra.Backend against a Kubernetes cluster: one
// namespace per application, one Deployment and Service per instance, and a
// Traefik IngressRoute custom resource per application driven through the
// dynamic client.
package kube

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/prevant-go/prevant/internal/apperr"
	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/pkg/logging"
)

const kubeSubsystem = "kube"

const (
	labelPrefix        = "com.aixigo.preview.servant."
	labelAppName       = labelPrefix + "app-name"
	labelServiceName   = labelPrefix + "service-name"
	labelContainerType = labelPrefix + "container-type"
	labelImage         = labelPrefix + "image"
	labelReplicatedEnv = labelPrefix + "replicated-env"
	labelStatusID      = labelPrefix + "status-id"
	labelManagedBy     = "app.kubernetes.io/managed-by"
	managedByValue     = "prevant"
)

var ingressRouteGVR = schema.GroupVersionResource{
	Group:    "traefik.io",
	Version:  "v1alpha1",
	Resource: "ingressroutes",
}

// Backend implements infra.Backend against a Kubernetes API server, using
// the typed clientset for core workloads and the dynamic client for
// Traefik's IngressRoute CRD, which has no generated typed client here.
type Backend struct {
	clientset  kubernetes.Interface
	dynamic    dynamic.Interface
	restConfig *rest.Config
}

// New builds a Backend from a REST config describing how to reach the
// cluster's API server, as assembled by the caller from Config.Runtime.
func New(cfg *rest.Config) (*Backend, error) {
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, apperr.Infrastructure(err, "building kubernetes clientset")
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, apperr.Infrastructure(err, "building kubernetes dynamic client")
	}
	return &Backend{clientset: clientset, dynamic: dyn, restConfig: cfg}, nil
}

func namespaceName(app model.AppName) string {
	return "prevant-" + app.ContainerPrefix()
}

func deploymentName(serviceName string) string {
	return strings.ToLower(serviceName)
}

func (b *Backend) FetchApps(ctx context.Context) (map[model.AppName]model.App, error) {
	namespaces, err := b.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		LabelSelector: labelManagedBy + "=" + managedByValue,
	})
	if err != nil {
		return nil, apperr.Infrastructure(err, "listing prevant namespaces")
	}

	apps := make(map[model.AppName]model.App, len(namespaces.Items))
	for _, ns := range namespaces.Items {
		appName := model.AppName(ns.Labels[labelAppName])
		if appName == "" {
			continue
		}
		app, err := b.fetchAppInNamespace(ctx, ns.Name, appName)
		if err != nil {
			return nil, err
		}
		if app != nil {
			apps[appName] = *app
		}
	}
	return apps, nil
}

func (b *Backend) FetchApp(ctx context.Context, name model.AppName) (*model.App, error) {
	ns := namespaceName(name)
	if _, err := b.clientset.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperr.Infrastructure(err, "getting namespace %s", ns)
	}
	return b.fetchAppInNamespace(ctx, ns, name)
}

func (b *Backend) fetchAppInNamespace(ctx context.Context, ns string, appName model.AppName) (*model.App, error) {
	deployments, err := b.clientset.AppsV1().Deployments(ns).List(ctx, metav1.ListOptions{
		LabelSelector: labelAppName + "=" + appName.String(),
	})
	if err != nil {
		return nil, apperr.Infrastructure(err, "listing deployments in %s", ns)
	}

	app := &model.App{Name: appName}
	for _, d := range deployments.Items {
		app.Services = append(app.Services, deploymentToService(d))
	}
	return app, nil
}

func deploymentToService(d appsv1.Deployment) model.Service {
	var containerType model.ContainerType
	_ = (&containerType).UnmarshalJSON([]byte(`"` + d.Labels[labelContainerType] + `"`))

	status := model.ServiceStatusRunning
	if d.Spec.Replicas != nil && *d.Spec.Replicas == 0 {
		status = model.ServiceStatusPaused
	}

	image, _ := model.ParseImage(d.Labels[labelImage])

	var startedAt time.Time
	if d.CreationTimestamp.Time.Unix() > 0 {
		startedAt = d.CreationTimestamp.Time
	}

	return model.Service{
		ID:            string(d.UID),
		ServiceName:   d.Labels[labelServiceName],
		ContainerType: containerType,
		Status:        status,
		StartedAt:     startedAt,
		Config: model.ServiceConfig{
			ServiceName:   d.Labels[labelServiceName],
			Image:         image,
			ContainerType: containerType,
		},
	}
}

func (b *Backend) ensureNamespace(ctx context.Context, app model.AppName) error {
	ns := namespaceName(app)
	_, err := b.clientset.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return apperr.Infrastructure(err, "getting namespace %s", ns)
	}

	_, err = b.clientset.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: ns,
			Labels: map[string]string{
				labelManagedBy: managedByValue,
				labelAppName:   app.String(),
			},
		},
	}, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return apperr.Infrastructure(err, "creating namespace %s", ns)
	}
	return nil
}

func (b *Backend) DeployServices(ctx context.Context, unit infra.DeploymentUnit) (model.App, error) {
	if err := b.ensureNamespace(ctx, unit.AppName); err != nil {
		return model.App{}, err
	}
	ns := namespaceName(unit.AppName)

	for _, svc := range unit.Services {
		if err := b.deployOne(ctx, ns, unit, svc); err != nil {
			return model.App{}, err
		}
	}

	if err := b.upsertIngressRoute(ctx, ns, unit.AppName, unit.Services); err != nil {
		logging.Error(kubeSubsystem, err, "upserting ingress route for %s", unit.AppName)
	}

	app, err := b.FetchApp(ctx, unit.AppName)
	if err != nil {
		return model.App{}, err
	}
	if app == nil {
		return model.App{Name: unit.AppName}, nil
	}
	return *app, nil
}

func (b *Backend) deployOne(ctx context.Context, ns string, unit infra.DeploymentUnit, svc model.DeployableService) error {
	name := deploymentName(svc.ServiceName)

	replicated := make([]string, 0)
	var envVars []corev1.EnvVar
	for _, env := range svc.Environment {
		envVars = append(envVars, corev1.EnvVar{Name: env.Key, Value: env.Value})
		if env.Replicate {
			replicated = append(replicated, env.Key)
		}
	}

	labelSet := map[string]string{
		labelManagedBy:     managedByValue,
		labelAppName:       unit.AppName.String(),
		labelServiceName:   svc.ServiceName,
		labelContainerType: svc.ContainerType.String(),
		labelImage:         svc.Image.Name(),
		labelReplicatedEnv: strings.Join(replicated, ";"),
		labelStatusID:      unit.StatusChangeID,
	}
	for k, v := range svc.Labels {
		labelSet[k] = v
	}

	replicas := int32(1)
	var ports []corev1.ContainerPort
	if svc.Port != 0 {
		ports = []corev1.ContainerPort{{ContainerPort: int32(svc.Port)}}
	}

	resources := corev1.ResourceRequirements{}
	if unit.MemoryLimit != "" {
		if qty, err := resource.ParseQuantity(unit.MemoryLimit); err == nil {
			resources.Limits = corev1.ResourceList{corev1.ResourceMemory: qty}
		}
	}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: labelSet},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{labelServiceName: svc.ServiceName}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labelSet},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:      name,
						Image:     svc.Image.Name(),
						Env:       envVars,
						Ports:     ports,
						Resources: resources,
					}},
				},
			},
		},
	}

	deployments := b.clientset.AppsV1().Deployments(ns)
	existing, err := deployments.Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		_, err = deployments.Create(ctx, deployment, metav1.CreateOptions{})
	case err == nil:
		deployment.ResourceVersion = existing.ResourceVersion
		_, err = deployments.Update(ctx, deployment, metav1.UpdateOptions{})
	}
	if err != nil {
		return apperr.Infrastructure(err, "reconciling deployment %s/%s", ns, name)
	}

	if svc.Port != 0 {
		if err := b.ensureService(ctx, ns, name, labelSet, svc); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ensureService(ctx context.Context, ns, name string, labelSet map[string]string, svc model.DeployableService) error {
	svcAPI := b.clientset.CoreV1().Services(ns)
	spec := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: labelSet},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{labelServiceName: svc.ServiceName},
			Ports: []corev1.ServicePort{{
				Port:       int32(svc.Port),
				TargetPort: intstr.FromInt(int(svc.Port)),
			}},
		},
	}

	existing, err := svcAPI.Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		_, err = svcAPI.Create(ctx, spec, metav1.CreateOptions{})
	case err == nil:
		spec.ResourceVersion = existing.ResourceVersion
		spec.Spec.ClusterIP = existing.Spec.ClusterIP
		_, err = svcAPI.Update(ctx, spec, metav1.UpdateOptions{})
	}
	if err != nil {
		return apperr.Infrastructure(err, "reconciling service %s/%s", ns, name)
	}
	return nil
}

func (b *Backend) upsertIngressRoute(ctx context.Context, ns string, app model.AppName, services []model.DeployableService) error {
	var routes []interface{}
	for _, svc := range services {
		if svc.Port == 0 {
			continue
		}
		prefix := svc.Route.PathPrefix
		if prefix == "" {
			prefix = fmt.Sprintf("/%s/%s/", app, svc.ServiceName)
		}
		routes = append(routes, map[string]interface{}{
			"match": fmt.Sprintf("PathPrefix(`%s`)", prefix),
			"kind":  "Rule",
			"services": []interface{}{
				map[string]interface{}{
					"name": deploymentName(svc.ServiceName),
					"port": int64(svc.Port),
				},
			},
		})
	}
	if len(routes) == 0 {
		return nil
	}

	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "traefik.io/v1alpha1",
		"kind":       "IngressRoute",
		"metadata": map[string]interface{}{
			"name":      app.ContainerPrefix(),
			"namespace": ns,
		},
		"spec": map[string]interface{}{
			"entryPoints": []interface{}{"web", "websecure"},
			"routes":      routes,
		},
	}}

	client := b.dynamic.Resource(ingressRouteGVR).Namespace(ns)
	existing, err := client.Get(ctx, app.ContainerPrefix(), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = client.Create(ctx, obj, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	obj.SetResourceVersion(existing.GetResourceVersion())
	_, err = client.Update(ctx, obj, metav1.UpdateOptions{})
	return err
}

func (b *Backend) StopServices(ctx context.Context, name model.AppName) (model.App, error) {
	app, err := b.FetchApp(ctx, name)
	if err != nil {
		return model.App{}, err
	}
	if app == nil {
		app = &model.App{Name: name}
	}

	ns := namespaceName(name)
	if err := b.clientset.CoreV1().Namespaces().Delete(ctx, ns, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return model.App{}, apperr.Infrastructure(err, "deleting namespace %s", ns)
	}
	_ = b.dynamic.Resource(ingressRouteGVR).Namespace(ns).Delete(ctx, name.ContainerPrefix(), metav1.DeleteOptions{})
	return *app, nil
}

func (b *Backend) ChangeStatus(ctx context.Context, app model.AppName, serviceName string, status model.ServiceStatus) (*model.Service, error) {
	ns := namespaceName(app)
	name := deploymentName(serviceName)
	deployments := b.clientset.AppsV1().Deployments(ns)

	if _, err := deployments.Get(ctx, name, metav1.GetOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperr.Infrastructure(err, "getting deployment %s/%s", ns, name)
	}

	replicas := int32(1)
	if status == model.ServiceStatusPaused {
		replicas = 0
	}

	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	updated, err := deployments.Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return nil, apperr.Infrastructure(err, "scaling deployment %s/%s", ns, name)
	}

	svc := deploymentToService(*updated)
	svc.Status = status
	return &svc, nil
}

func (b *Backend) GetLogs(ctx context.Context, app model.AppName, serviceName string, opts infra.LogOptions) (<-chan infra.LogLine, error) {
	ns := namespaceName(app)
	pods, err := b.clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{
		LabelSelector: labels.Set{labelServiceName: serviceName}.String(),
	})
	if err != nil {
		return nil, apperr.Infrastructure(err, "listing pods for %s/%s", ns, serviceName)
	}
	if len(pods.Items) == 0 {
		return nil, apperr.AppNotFound(fmt.Sprintf("%s/%s", app, serviceName))
	}
	podName := pods.Items[0].Name

	logOpts := &corev1.PodLogOptions{Follow: opts.Follow, Timestamps: true}
	if !opts.Since.IsZero() {
		since := metav1.NewTime(opts.Since)
		logOpts.SinceTime = &since
	}
	if opts.Limit > 0 && !opts.Follow {
		tail := int64(opts.Limit)
		logOpts.TailLines = &tail
	}

	stream, err := b.clientset.CoreV1().Pods(ns).GetLogs(podName, logOpts).Stream(ctx)
	if err != nil {
		return nil, apperr.Infrastructure(err, "streaming logs for %s/%s", ns, podName)
	}

	out := make(chan infra.LogLine)
	go func() {
		defer close(out)
		defer stream.Close()
		scanLines(ctx, stream, out)
	}()
	return out, nil
}

func scanLines(ctx context.Context, r io.Reader, out chan<- infra.LogLine) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		ts, text := splitTimestamp(scanner.Text())
		select {
		case out <- infra.LogLine{Timestamp: ts, Line: text}:
		case <-ctx.Done():
			return
		}
	}
}

func splitTimestamp(line string) (time.Time, string) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return time.Time{}, line
	}
	ts, err := time.Parse(time.RFC3339Nano, line[:idx])
	if err != nil {
		return time.Time{}, line
	}
	return ts, line[idx+1:]
}

func (b *Backend) HTTPForwarder() infra.Forwarder {
	return forwarder{backend: b}
}

func (b *Backend) BaseTraefikIngressRoute(_ context.Context) (*infra.Route, error) {
	return &infra.Route{PathPrefix: "/"}, nil
}

type forwarder struct {
	backend *Backend
}

func (f forwarder) Forward(ctx context.Context, app model.AppName, serviceName string, req *http.Request) (*http.Response, error) {
	ns := namespaceName(app)
	name := deploymentName(serviceName)

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, apperr.Infrastructure(err, "reading forwarded request body")
		}
	}

	result := f.backend.clientset.CoreV1().RESTClient().
		Verb(req.Method).
		Namespace(ns).
		Resource("services").
		Name(name + ":http").
		SubResource("proxy").
		Suffix(req.URL.Path).
		Body(body).
		Do(ctx)

	raw, err := result.Raw()
	var statusCode int
	result.StatusCode(&statusCode)
	if err != nil && statusCode == 0 {
		return nil, apperr.Infrastructure(err, "forwarding to %s/%s", ns, name)
	}

	resp := &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(string(raw))),
		Header:     make(http.Header),
	}
	return resp, nil
}
