// Package docker implements infra.Backend against a local Docker daemon by
// shelling out to the docker CLI, the same way the teacher's
// containerizer.DockerRuntime drives a single container — generalized here
// from one container to one application's full set of services, read back
// by label rather than tracked by container ID.
package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/prevant-go/prevant/internal/apperr"
	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/pkg/logging"
)

const dockerSubsystem = "docker"

const (
	labelPrefix        = "com.aixigo.preview.servant."
	labelAppName       = labelPrefix + "app-name"
	labelServiceName   = labelPrefix + "service-name"
	labelContainerType = labelPrefix + "container-type"
	labelImage         = labelPrefix + "image"
	labelReplicatedEnv = labelPrefix + "replicated-env"
	labelStatusID      = labelPrefix + "status-id"
)

// commandContext is a variable so tests can substitute a fake docker CLI.
var commandContext = exec.CommandContext

// Backend implements infra.Backend by driving containers and a per-app
// bridge network through the docker CLI.
type Backend struct {
	// traefik is the Traefik dynamic-config writer; nil disables ingress
	// route publication (BaseTraefikIngressRoute still returns a route,
	// just without a backing file-provider entry).
	traefik *TraefikWriter
}

// New constructs a docker Backend. traefik may be nil if no Traefik dynamic
// configuration directory is configured.
func New(traefik *TraefikWriter) *Backend {
	return &Backend{traefik: traefik}
}

func networkName(app model.AppName) string {
	return "prevant-" + app.ContainerPrefix()
}

func containerName(app model.AppName, serviceName string) string {
	return fmt.Sprintf("prevant-%s-%s", app.ContainerPrefix(), strings.ToLower(serviceName))
}

func (b *Backend) run(ctx context.Context, args ...string) (string, error) {
	logging.Debug(dockerSubsystem, "docker %s", strings.Join(args, " "))
	cmd := commandContext(ctx, "docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", apperr.Infrastructure(err, "docker %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// dockerPSEntry is one line of `docker ps --format json`'s output.
type dockerPSEntry struct {
	ID     string `json:"ID"`
	Names  string `json:"Names"`
	Labels string `json:"Labels"`
	State  string `json:"State"`
}

func parseLabels(raw string) map[string]string {
	out := make(map[string]string)
	for _, kv := range strings.Split(raw, ",") {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

// listContainers runs `docker ps -a` filtered by labelFilter ("key=value",
// or "" for every prevant-managed container) and returns the parsed rows.
func (b *Backend) listContainers(ctx context.Context, labelFilter string) ([]dockerPSEntry, error) {
	args := []string{"ps", "-a", "--no-trunc", "--format", "{{json .}}", "--filter", "label=" + labelAppName}
	if labelFilter != "" {
		args = append(args, "--filter", "label="+labelFilter)
	}
	out, err := b.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var entries []dockerPSEntry
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e dockerPSEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func entryToService(e dockerPSEntry, startedAt time.Time) model.Service {
	labels := parseLabels(e.Labels)

	var containerType model.ContainerType
	_ = (&containerType).UnmarshalJSON([]byte(`"` + labels[labelContainerType] + `"`))

	status := model.ServiceStatusRunning
	if strings.Contains(strings.ToLower(e.State), "pause") {
		status = model.ServiceStatusPaused
	} else if !strings.Contains(strings.ToLower(e.State), "running") {
		status = model.ServiceStatusPaused
	}

	image, _ := model.ParseImage(labels[labelImage])

	return model.Service{
		ID:            e.ID,
		ServiceName:   labels[labelServiceName],
		ContainerType: containerType,
		Status:        status,
		StartedAt:     startedAt,
		Config: model.ServiceConfig{
			ServiceName:   labels[labelServiceName],
			Image:         image,
			ContainerType: containerType,
		},
	}
}

func (b *Backend) inspectStartedAt(ctx context.Context, containerID string) time.Time {
	out, err := b.run(ctx, "inspect", "-f", "{{.State.StartedAt}}", containerID)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(out))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (b *Backend) FetchApps(ctx context.Context) (map[model.AppName]model.App, error) {
	entries, err := b.listContainers(ctx, "")
	if err != nil {
		return nil, err
	}

	apps := make(map[model.AppName]model.App)
	for _, e := range entries {
		labels := parseLabels(e.Labels)
		appName := model.AppName(labels[labelAppName])
		app := apps[appName]
		app.Name = appName
		app.Services = append(app.Services, entryToService(e, b.inspectStartedAt(ctx, e.ID)))
		apps[appName] = app
	}
	return apps, nil
}

func (b *Backend) FetchApp(ctx context.Context, name model.AppName) (*model.App, error) {
	entries, err := b.listContainers(ctx, labelAppName+"="+name.String())
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	app := model.App{Name: name}
	for _, e := range entries {
		app.Services = append(app.Services, entryToService(e, b.inspectStartedAt(ctx, e.ID)))
	}
	return &app, nil
}

func (b *Backend) ensureNetwork(ctx context.Context, app model.AppName) error {
	name := networkName(app)
	if _, err := b.run(ctx, "network", "inspect", name); err == nil {
		return nil
	}
	_, err := b.run(ctx, "network", "create", name)
	return err
}

func (b *Backend) DeployServices(ctx context.Context, unit infra.DeploymentUnit) (model.App, error) {
	if err := b.ensureNetwork(ctx, unit.AppName); err != nil {
		return model.App{}, err
	}

	for _, svc := range unit.Services {
		if err := b.deployOne(ctx, unit, svc); err != nil {
			return model.App{}, err
		}
	}

	if b.traefik != nil {
		if err := b.traefik.Write(unit.AppName, unit.Services); err != nil {
			logging.Error(dockerSubsystem, err, "writing traefik dynamic config for %s", unit.AppName)
		}
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

func (b *Backend) deployOne(ctx context.Context, unit infra.DeploymentUnit, svc model.DeployableService) error {
	name := containerName(unit.AppName, svc.ServiceName)

	// Recreate strategy: remove any existing container with this name
	// before starting the new one; docker run --name fails otherwise.
	_, _ = b.run(ctx, "rm", "-f", name)

	replicated := make([]string, 0)
	for _, env := range svc.Environment {
		if env.Replicate {
			replicated = append(replicated, env.Key)
		}
	}

	args := []string{"run", "-d", "--name", name, "--network", networkName(unit.AppName), "--network-alias", svc.ServiceName}
	if unit.MemoryLimit != "" {
		args = append(args, "--memory", unit.MemoryLimit)
	}
	args = append(args,
		"--label", labelAppName+"="+unit.AppName.String(),
		"--label", labelServiceName+"="+svc.ServiceName,
		"--label", labelContainerType+"="+svc.ContainerType.String(),
		"--label", labelImage+"="+svc.Image.Name(),
		"--label", labelReplicatedEnv+"="+strings.Join(replicated, ";"),
		"--label", labelStatusID+"="+unit.StatusChangeID,
	)
	for k, v := range svc.Labels {
		args = append(args, "--label", k+"="+v)
	}
	for _, env := range svc.Environment {
		args = append(args, "-e", env.Key+"="+env.Value)
	}
	if svc.Port != 0 {
		args = append(args, "--expose", strconv.Itoa(int(svc.Port)))
	}
	args = append(args, svc.Image.Name())

	_, err := b.run(ctx, args...)
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

	entries, err := b.listContainers(ctx, labelAppName+"="+name.String())
	if err != nil {
		return model.App{}, err
	}
	for _, e := range entries {
		_, _ = b.run(ctx, "rm", "-f", e.ID)
	}
	_, _ = b.run(ctx, "network", "rm", networkName(name))

	if b.traefik != nil {
		if err := b.traefik.Remove(name); err != nil {
			logging.Error(dockerSubsystem, err, "removing traefik dynamic config for %s", name)
		}
	}
	return *app, nil
}

func (b *Backend) ChangeStatus(ctx context.Context, app model.AppName, serviceName string, status model.ServiceStatus) (*model.Service, error) {
	entries, err := b.listContainers(ctx, labelServiceName+"="+serviceName)
	if err != nil {
		return nil, err
	}
	var target *dockerPSEntry
	for i := range entries {
		labels := parseLabels(entries[i].Labels)
		if labels[labelAppName] == app.String() {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return nil, nil
	}

	verb := "unpause"
	if status == model.ServiceStatusPaused {
		verb = "pause"
	}
	if _, err := b.run(ctx, verb, target.ID); err != nil {
		return nil, err
	}

	svc := entryToService(*target, b.inspectStartedAt(ctx, target.ID))
	svc.Status = status
	return &svc, nil
}

func (b *Backend) GetLogs(ctx context.Context, app model.AppName, serviceName string, opts infra.LogOptions) (<-chan infra.LogLine, error) {
	entries, err := b.listContainers(ctx, labelServiceName+"="+serviceName)
	if err != nil {
		return nil, err
	}
	var containerID string
	for _, e := range entries {
		labels := parseLabels(e.Labels)
		if labels[labelAppName] == app.String() {
			containerID = e.ID
			break
		}
	}
	if containerID == "" {
		return nil, apperr.AppNotFound(app.String())
	}

	args := []string{"logs", "--timestamps"}
	if opts.Follow {
		args = append(args, "--follow")
	}
	if !opts.Since.IsZero() {
		args = append(args, "--since", opts.Since.Format(time.RFC3339Nano))
	}
	args = append(args, containerID)

	cmd := commandContext(ctx, "docker", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Infrastructure(err, "streaming logs for %s/%s", app, serviceName)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperr.Infrastructure(err, "starting log stream for %s/%s", app, serviceName)
	}

	out := make(chan infra.LogLine)
	go func() {
		defer close(out)
		defer cmd.Wait()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		delivered := 0
		for scanner.Scan() {
			ts, line := splitTimestamp(scanner.Text())
			select {
			case out <- infra.LogLine{Timestamp: ts, Line: line}:
				delivered++
			case <-ctx.Done():
				return
			}
			if opts.Limit > 0 && !opts.Follow && delivered >= opts.Limit {
				return
			}
		}
	}()
	return out, nil
}

// splitTimestamp splits a `docker logs --timestamps` line into its RFC3339
// timestamp prefix and the remaining log text.
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

// forwarder resolves a service name to its docker network IP and issues the
// request directly, since prevant itself may not be attached to the
// per-app bridge network as a named alias.
type forwarder struct {
	backend *Backend
}

func (f forwarder) Forward(ctx context.Context, app model.AppName, serviceName string, req *http.Request) (*http.Response, error) {
	entries, err := f.backend.listContainers(ctx, labelServiceName+"="+serviceName)
	if err != nil {
		return nil, err
	}
	var containerID string
	for _, e := range entries {
		labels := parseLabels(e.Labels)
		if labels[labelAppName] == app.String() {
			containerID = e.ID
			break
		}
	}
	if containerID == "" {
		return nil, apperr.AppNotFound(app.String())
	}

	out, err := f.backend.run(ctx, "inspect", "-f",
		fmt.Sprintf("{{(index .NetworkSettings.Networks %q).IPAddress}}", networkName(app)), containerID)
	if err != nil {
		return nil, err
	}
	ip := strings.TrimSpace(out)
	if ip == "" {
		return nil, apperr.Infrastructure(fmt.Errorf("no network address for %s", serviceName), "forwarding to %s", serviceName)
	}

	req = req.Clone(ctx)
	req.URL.Host = ip
	req.URL.Scheme = "http"
	req.RequestURI = ""

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}
