package domain

import (
	"sort"
	"strings"
	"time"
)

// OptionKind es la familia de opciones en la que un activo está abierto.
type OptionKind string

const (
	KindTurbo   OptionKind = "turbo"
	KindBinary  OptionKind = "binary"
	KindDigital OptionKind = "digital"
)

// Kinds en el orden en que el resolver los consulta.
var Kinds = []OptionKind{KindTurbo, KindBinary, KindDigital}

// OpenInstruments es el snapshot kind → conjunto de activos abiertos.
type OpenInstruments map[OptionKind]map[string]struct{}

// NewOpenInstruments construye el snapshot a partir de listas de nombres.
func NewOpenInstruments(byKind map[OptionKind][]string) OpenInstruments {
	out := make(OpenInstruments, len(byKind))
	for kind, names := range byKind {
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		out[kind] = set
	}
	return out
}

// Has indica si el activo está abierto para el kind dado.
func (o OpenInstruments) Has(kind OptionKind, name string) bool {
	_, ok := o[kind][name]
	return ok
}

// Count devuelve el total de pares (kind, activo) abiertos.
func (o OpenInstruments) Count() int {
	n := 0
	for _, set := range o {
		n += len(set)
	}
	return n
}

// Names devuelve los activos abiertos de un kind, ordenados.
func (o OpenInstruments) Names(kind OptionKind) []string {
	names := make([]string, 0, len(o[kind]))
	for n := range o[kind] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InstrumentsSnapshot es lo que guarda la cache del resolver.
type InstrumentsSnapshot struct {
	Open        OpenInstruments
	RefreshedAt time.Time
}

// ResolvedAsset es el activo que realmente se envía al broker.
type ResolvedAsset struct {
	Name string
	Kind OptionKind
	OTC  bool
}

// IsOTC detecta el sufijo OTC del broker.
func IsOTC(name string) bool {
	return strings.HasSuffix(strings.ToUpper(name), "-OTC")
}

// BaseSymbol quita separadores y sufijos ("-op", "-OTC") y pasa a mayúsculas.
func BaseSymbol(name string) string {
	s := strings.ToUpper(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "/", "")
	for _, suffix := range []string{"-OTC", "-OP"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return s
}
