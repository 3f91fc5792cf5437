// Package mapping is the mapping kit: it turns a mapping template plus an
// event into the payload an action sends.
//
// A template is a JSON tree. Plain values are copied through, objects and
// arrays are walked recursively, and objects holding exactly one reserved
// "@" key are directives evaluated against the event:
//
//	{"@path": "$.properties.revenue"}
//	{"@template": "Hello {{traits.first_name}}"}
//	{"@if": {"exists": {"@path": "$.userId"}, "then": "known", "else": "anon"}}
//	{"@arrayPath": ["$.properties.products", {"sku": {"@path": "$.sku"}}]}
//	{"@json": {"mode": "encode", "value": {"@path": "$.traits"}}}
//	{"@literal": {"@path": "not evaluated"}}
//	{"@case": {"operator": "lower", "value": {"@path": "$.email"}}}
//	{"@replace": {"pattern": "-", "replacement": "", "value": {"@path": "$.phone"}}}
//	{"@merge": {"direction": "right", "objects": [{"@path": "$.traits"}, {"plan": "pro"}]}}
//	{"@flatten": {"separator": "_", "value": {"@path": "$.context"}}}
//
// # Missing data
//
// A directive that cannot resolve yields "undefined": the enclosing object
// drops the key instead of writing null. Decoding invalid JSON with @json is
// undefined as well. None of this is an error.
//
// # Errors
//
// Templates are compiled once (Compile) into an immutable tree. Only
// structural problems fail: a directive with sibling keys, an unknown "@"
// directive or directive arguments of the wrong shape. Those errors satisfy
// errors.Is(err, errkind.ErrConfiguration).
//
// # @arrayPath scope
//
// Inside the item template the array element is the current scope. How a
// path reaches data depends on how it is written:
//
//	"$.sku"       the element only; a miss is undefined
//	"sku"         the element, then the enclosing event
//	"$root.name"  the top-level event only
//
// Outside @arrayPath all three read the event. {{tags}} in @template follow
// the same rules.
package mapping
