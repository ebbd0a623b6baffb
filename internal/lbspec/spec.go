// Package lbspec resolves a service's annotations and the operator-wide
// defaults into the desired load balancer configuration for one
// reconciliation pass.
package lbspec

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/robotlb/robotlb/internal/annotations"
	"github.com/robotlb/robotlb/internal/config"
	"github.com/robotlb/robotlb/internal/nodefilter"
)

// Algorithm is the balancing algorithm of the cloud load balancer.
type Algorithm string

const (
	AlgorithmRoundRobin       Algorithm = "round-robin"
	AlgorithmLeastConnections Algorithm = "least-connections"
)

// ParseAlgorithm validates an algorithm string.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmRoundRobin, AlgorithmLeastConnections:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("unknown load balancing algorithm %q", s)
	}
}

// Listener forwards one TCP port of the balancer to the matching node
// port on every target.
type Listener struct {
	ListenPort      int
	DestinationPort int
}

// HealthCheck holds the TCP health check parameters applied to every
// listener. The check port always equals the listener destination port.
type HealthCheck struct {
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// SelectionMode tags how backend targets are picked.
type SelectionMode int

const (
	// SelectionStatic evaluates node selector rules against node labels.
	SelectionStatic SelectionMode = iota
	// SelectionDynamic follows the service's pods to their hosting nodes.
	SelectionDynamic
)

// TargetSelection is the tagged selection variant consumed by the target
// resolver. Rules is only set in static mode.
type TargetSelection struct {
	Mode  SelectionMode
	Rules *nodefilter.Filter
}

// DesiredLoadBalancerSpec is the immutable desired configuration derived
// for a single reconciliation pass.
type DesiredLoadBalancerSpec struct {
	Name        string
	Network     string // empty: no network attachment
	PrivateIP   net.IP // nil unless requested; requires Network
	Algorithm   Algorithm
	Location    string
	Type        string
	ProxyMode   bool
	IPv6Ingress bool
	Listeners   []Listener
	HealthCheck HealthCheck
	Selection   TargetSelection
}

// InvalidValueError reports an annotation value that could not be parsed
// or is outside the recognized set.
type InvalidValueError struct {
	Key   string
	Value string
	Cause error
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %q for annotation %s: %v", e.Value, e.Key, e.Cause)
}

func (e *InvalidValueError) Unwrap() error { return e.Cause }

func (e *InvalidValueError) configError() {}

// DependentFieldMissingError reports an annotation that is only valid in
// combination with another one.
type DependentFieldMissingError struct {
	Field    string
	Requires string
}

func (e *DependentFieldMissingError) Error() string {
	return fmt.Sprintf("annotation %s requires %s to be set", e.Field, e.Requires)
}

func (e *DependentFieldMissingError) configError() {}

// NoListenersError reports a service whose ports yield no usable TCP
// listener.
type NoListenersError struct {
	Service string
}

func (e *NoListenersError) Error() string {
	return fmt.Sprintf("service %s has no usable TCP port with an allocated node port", e.Service)
}

func (e *NoListenersError) configError() {}

type configError interface {
	error
	configError()
}

// IsConfigError reports whether err is a permanent configuration error.
// Configuration errors are surfaced on the service and not retried until
// the input changes.
func IsConfigError(err error) bool {
	var ce configError
	return errors.As(err, &ce)
}

// Resolve merges the service annotations with the defaults into a
// complete spec. Recognized annotations override defaults, unrecognized
// keys are ignored. Returned warnings describe dropped service ports;
// they do not fail the pass and accompany the error too, so callers can
// surface them even when resolution fails.
func Resolve(svc *corev1.Service, defaults config.Defaults) (*DesiredLoadBalancerSpec, []string, error) {
	ann := svc.Annotations
	listeners, warnings := resolveListeners(svc)

	spec := &DesiredLoadBalancerSpec{
		Name:        stringValue(ann, annotations.BalancerName, svc.Name),
		Network:     stringValue(ann, annotations.Network, defaults.Network),
		Location:    stringValue(ann, annotations.Location, defaults.Location),
		Type:        stringValue(ann, annotations.BalancerType, defaults.BalancerType),
		IPv6Ingress: defaults.IPv6Ingress,
	}

	algorithm, err := algorithmValue(ann, defaults.Algorithm)
	if err != nil {
		return nil, warnings, err
	}
	spec.Algorithm = algorithm

	interval, err := intValue(ann, annotations.CheckInterval, defaults.CheckInterval)
	if err != nil {
		return nil, warnings, err
	}
	timeout, err := intValue(ann, annotations.CheckTimeout, defaults.CheckTimeout)
	if err != nil {
		return nil, warnings, err
	}
	retries, err := intValue(ann, annotations.CheckRetries, defaults.CheckRetries)
	if err != nil {
		return nil, warnings, err
	}
	spec.HealthCheck = HealthCheck{
		Interval: time.Duration(interval) * time.Second,
		Timeout:  time.Duration(timeout) * time.Second,
		Retries:  retries,
	}

	proxyMode, err := boolValue(ann, annotations.ProxyMode, defaults.ProxyMode)
	if err != nil {
		return nil, warnings, err
	}
	spec.ProxyMode = proxyMode

	if raw, ok := ann[annotations.PrivateIP]; ok {
		if spec.Network == "" {
			return nil, warnings, &DependentFieldMissingError{
				Field:    annotations.PrivateIP,
				Requires: annotations.Network,
			}
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, warnings, &InvalidValueError{
				Key:   annotations.PrivateIP,
				Value: raw,
				Cause: fmt.Errorf("not an IP address"),
			}
		}
		spec.PrivateIP = ip
	}

	selection, err := resolveSelection(ann, defaults)
	if err != nil {
		return nil, warnings, err
	}
	spec.Selection = selection

	if len(listeners) == 0 {
		return nil, warnings, &NoListenersError{Service: svc.Namespace + "/" + svc.Name}
	}
	spec.Listeners = listeners

	return spec, warnings, nil
}

func resolveSelection(ann map[string]string, defaults config.Defaults) (TargetSelection, error) {
	if defaults.DynamicNodeSelector {
		return TargetSelection{Mode: SelectionDynamic}, nil
	}
	raw := ann[annotations.NodeSelector]
	rules, err := nodefilter.Parse(raw)
	if err != nil {
		return TargetSelection{}, &InvalidValueError{
			Key:   annotations.NodeSelector,
			Value: raw,
			Cause: err,
		}
	}
	return TargetSelection{Mode: SelectionStatic, Rules: rules}, nil
}

// resolveListeners maps the service's TCP ports to listeners. Each
// listener forwards the service port to the allocated node port. Non-TCP
// ports and ports without a node port are dropped with a warning.
func resolveListeners(svc *corev1.Service) ([]Listener, []string) {
	var listeners []Listener
	var warnings []string
	for _, port := range svc.Spec.Ports {
		if port.Protocol != "" && port.Protocol != corev1.ProtocolTCP {
			warnings = append(warnings, fmt.Sprintf(
				"port %d uses unsupported protocol %s, skipping", port.Port, port.Protocol))
			continue
		}
		if port.NodePort == 0 {
			warnings = append(warnings, fmt.Sprintf(
				"port %d has no allocated node port yet, skipping", port.Port))
			continue
		}
		listeners = append(listeners, Listener{
			ListenPort:      int(port.Port),
			DestinationPort: int(port.NodePort),
		})
	}
	return listeners, warnings
}

func stringValue(ann map[string]string, key, fallback string) string {
	if v, ok := ann[key]; ok {
		return v
	}
	return fallback
}

func intValue(ann map[string]string, key string, fallback int) (int, error) {
	raw, ok := ann[key]
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &InvalidValueError{Key: key, Value: raw, Cause: err}
	}
	return n, nil
}

func boolValue(ann map[string]string, key string, fallback bool) (bool, error) {
	raw, ok := ann[key]
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &InvalidValueError{Key: key, Value: raw, Cause: err}
	}
	return b, nil
}

func algorithmValue(ann map[string]string, fallback string) (Algorithm, error) {
	raw, ok := ann[annotations.Algorithm]
	if !ok {
		raw = fallback
	}
	algorithm, err := ParseAlgorithm(raw)
	if err != nil {
		return "", &InvalidValueError{Key: annotations.Algorithm, Value: raw, Cause: err}
	}
	return algorithm, nil
}
