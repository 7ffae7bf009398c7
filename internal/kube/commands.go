package kube

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seantiz/storefleet/internal/invoker"
)

// Default binary names.
const (
	DefaultKubectl = "kubectl"
	DefaultHelm    = "helm"
)

// Kubectl builds kubectl commands.
type Kubectl struct {
	Bin        string
	Kubeconfig string
}

func (k Kubectl) command(args ...string) invoker.Command {
	bin := k.Bin
	if bin == "" {
		bin = DefaultKubectl
	}
	if k.Kubeconfig != "" {
		args = append([]string{"--kubeconfig", k.Kubeconfig}, args...)
	}
	return invoker.Command{Name: bin, Args: args}
}

// ApplyManifest applies YAML passed on stdin. An empty namespace applies
// cluster-scoped objects.
func (k Kubectl) ApplyManifest(namespace string, manifest []byte) invoker.Command {
	args := []string{"apply"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	cmd := k.command(append(args, "-f", "-")...)
	cmd.Stdin = manifest
	return cmd
}

// ApplyFiles applies manifest files into namespace.
func (k Kubectl) ApplyFiles(namespace string, files ...string) invoker.Command {
	args := []string{"apply", "-n", namespace}
	for _, f := range files {
		args = append(args, "-f", f)
	}
	return k.command(args...)
}

// DeleteFiles deletes the objects described by manifest files from namespace.
func (k Kubectl) DeleteFiles(namespace string, files ...string) invoker.Command {
	args := []string{"delete", "-n", namespace, "--ignore-not-found"}
	for _, f := range files {
		args = append(args, "-f", f)
	}
	return k.command(args...)
}

// RolloutStatus blocks until resource (e.g. "deployment/medusa") is rolled out
// or timeout elapses.
func (k Kubectl) RolloutStatus(namespace, resource string, timeout time.Duration) invoker.Command {
	return k.command("rollout", "status", resource, "-n", namespace, timeoutFlag(timeout))
}

// WaitPodsReady blocks until pods matching selector report Ready or timeout elapses.
func (k Kubectl) WaitPodsReady(namespace, selector string, timeout time.Duration) invoker.Command {
	return k.command("wait", "--for=condition=ready", "pod", "-l", selector, "-n", namespace, timeoutFlag(timeout))
}

// Exec runs args inside target (e.g. "deploy/store-x-wordpress").
func (k Kubectl) Exec(namespace, target string, args ...string) invoker.Command {
	return k.command(append([]string{"exec", "-n", namespace, target, "--"}, args...)...)
}

// DeleteNamespace deletes a namespace and everything in it.
func (k Kubectl) DeleteNamespace(namespace string) invoker.Command {
	return k.command("delete", "namespace", namespace, "--ignore-not-found")
}

func timeoutFlag(d time.Duration) string {
	return fmt.Sprintf("--timeout=%ds", int(d.Seconds()))
}

// Helm builds helm commands.
type Helm struct {
	Bin        string
	Kubeconfig string
}

func (h Helm) command(args ...string) invoker.Command {
	bin := h.Bin
	if bin == "" {
		bin = DefaultHelm
	}
	if h.Kubeconfig != "" {
		args = append(args, "--kubeconfig", h.Kubeconfig)
	}
	return invoker.Command{Name: bin, Args: args}
}

// Install installs chart as release into namespace. Values are applied in
// order: each values file, then every --set pair sorted by key.
func (h Helm) Install(release, chart, namespace string, valuesFiles []string, set map[string]string) invoker.Command {
	args := []string{"install", release, chart, "--namespace", namespace}
	for _, f := range valuesFiles {
		args = append(args, "-f", f)
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--set", k+"="+set[k])
	}
	return h.command(args...)
}

// Uninstall removes release from namespace.
func (h Helm) Uninstall(release, namespace string) invoker.Command {
	return h.command("uninstall", release, "-n", namespace)
}

// EscapeSetKey escapes dots in a single --set path segment, so a label key such
// as "storefleet.io/store" is not split into nested values.
func EscapeSetKey(segment string) string {
	return strings.ReplaceAll(segment, ".", `\.`)
}
