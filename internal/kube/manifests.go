package kube

import (
	"bytes"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// Namespace returns a namespace object carrying lbls.
func Namespace(name string, lbls map[string]string) *corev1.Namespace {
	return &corev1.Namespace{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: lbls},
	}
}

// ResourceQuota returns a quota with the given hard limits.
func ResourceQuota(namespace, name string, lbls map[string]string, hard corev1.ResourceList) *corev1.ResourceQuota {
	return &corev1.ResourceQuota{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ResourceQuota"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: lbls},
		Spec:       corev1.ResourceQuotaSpec{Hard: hard},
	}
}

// LimitRange returns a container limit range with default limits and requests.
func LimitRange(namespace, name string, lbls map[string]string, limits, requests corev1.ResourceList) *corev1.LimitRange {
	return &corev1.LimitRange{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "LimitRange"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: lbls},
		Spec: corev1.LimitRangeSpec{
			Limits: []corev1.LimitRangeItem{{
				Type:           corev1.LimitTypeContainer,
				Default:        limits,
				DefaultRequest: requests,
			}},
		},
	}
}

// Secret returns an opaque secret holding data as string values.
func Secret(namespace, name string, lbls map[string]string, data map[string]string) *corev1.Secret {
	return &corev1.Secret{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: lbls},
		Type:       corev1.SecretTypeOpaque,
		StringData: data,
	}
}

// IngressSpec describes a single-host, single-backend ingress.
type IngressSpec struct {
	Name        string
	Namespace   string
	ClassName   string
	Host        string
	ServiceName string
	ServicePort int32
	Labels      map[string]string
}

// Ingress returns an ingress routing every path on spec.Host to one service.
func Ingress(spec IngressSpec) *networkingv1.Ingress {
	pathType := networkingv1.PathTypePrefix
	ing := &networkingv1.Ingress{
		TypeMeta:   metav1.TypeMeta{APIVersion: "networking.k8s.io/v1", Kind: "Ingress"},
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: spec.Namespace, Labels: spec.Labels},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: spec.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: spec.ServiceName,
									Port: networkingv1.ServiceBackendPort{Number: spec.ServicePort},
								},
							},
						}},
					},
				},
			}},
		},
	}
	if spec.ClassName != "" {
		className := spec.ClassName
		ing.Spec.IngressClassName = &className
	}
	return ing
}

// ResourceList parses a name → quantity map such as {"limits.cpu": "4"}.
func ResourceList(m map[string]string) (corev1.ResourceList, error) {
	out := make(corev1.ResourceList, len(m))
	for name, value := range m {
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, fmt.Errorf("parse quantity %s=%q: %w", name, value, err)
		}
		out[corev1.ResourceName(name)] = q
	}
	return out, nil
}

// Marshal renders objects as a multi-document YAML stream suitable for
// `kubectl apply -f -`.
func Marshal(objs ...any) ([]byte, error) {
	var buf bytes.Buffer
	for i, obj := range objs {
		data, err := yaml.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("marshal manifest %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}
