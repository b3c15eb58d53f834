package models

import "time"

// Inventory is the set of mesh-enabled namespaces and their applications,
// in discovery order.
type Inventory struct {
	GeneratedAt time.Time   `json:"generated_at" yaml:"generated_at"`
	Namespaces  []Namespace `json:"namespaces" yaml:"namespaces"`
}

// Namespace holds the application names discovered in one namespace.
type Namespace struct {
	Name string   `json:"name" yaml:"name"`
	Apps []string `json:"apps" yaml:"apps"`
}

// AppRef identifies an application within a namespace.
type AppRef struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	App       string `json:"app" yaml:"app"`
}

// String renders the ref as "namespace/app".
func (r AppRef) String() string {
	return r.Namespace + "/" + r.App
}

// Apps returns every (namespace, app) pair in inventory order.
func (inv *Inventory) Apps() []AppRef {
	if inv == nil {
		return nil
	}
	refs := make([]AppRef, 0, inv.AppCount())
	for _, ns := range inv.Namespaces {
		for _, app := range ns.Apps {
			refs = append(refs, AppRef{Namespace: ns.Name, App: app})
		}
	}
	return refs
}

// AppCount returns the number of applications across all namespaces.
func (inv *Inventory) AppCount() int {
	if inv == nil {
		return 0
	}
	total := 0
	for _, ns := range inv.Namespaces {
		total += len(ns.Apps)
	}
	return total
}

// NamespaceNames returns namespace names in inventory order.
func (inv *Inventory) NamespaceNames() []string {
	if inv == nil {
		return nil
	}
	names := make([]string, 0, len(inv.Namespaces))
	for _, ns := range inv.Namespaces {
		names = append(names, ns.Name)
	}
	return names
}

// AppsIn returns the applications recorded for namespace. The second value is
// false when the namespace is not part of the inventory.
func (inv *Inventory) AppsIn(namespace string) ([]string, bool) {
	if inv == nil {
		return nil, false
	}
	for _, ns := range inv.Namespaces {
		if ns.Name == namespace {
			return ns.Apps, true
		}
	}
	return nil, false
}
