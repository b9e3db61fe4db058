package metricsql

// FuncKind classifies a Call for type-checking.
type FuncKind uint8

const (
	FuncRollup FuncKind = iota
	FuncTransform
	FuncLabel
)

// FuncSig describes one builtin function's arity and classification.
// Grounded on prometheus-prometheus/promql/functions.go's per-function
// dispatch table, mirrored here as a plain map... table of function
// pointers keyed by operator enum."
type FuncSig struct {
	Kind       FuncKind
	MinArgs    int
	MaxArgs    int // -1 means unbounded
	ReturnType ValueType
}

// Functions is the builtin function catalogue. The actual rollup
// implementations live in engine (package metricsql only needs arity/kind
// for parse-time validation).
var Functions = map[string]FuncSig{
	// rollup functions: first argument must be a range-vector.
	"rate":               {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"irate":              {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"increase":           {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"delta":              {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"idelta":             {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"changes":            {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"resets":             {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"avg_over_time":      {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"min_over_time":      {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"max_over_time":      {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"sum_over_time":      {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"count_over_time":    {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"stddev_over_time":   {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"stdvar_over_time":   {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"quantile_over_time": {Kind: FuncRollup, MinArgs: 2, MaxArgs: 2, ReturnType: ValueVector},
	"last_over_time":     {Kind: FuncRollup, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},

	// transform functions over instant vectors or scalars.
	"abs":           {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"ceil":          {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"floor":         {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"round":         {Kind: FuncTransform, MinArgs: 1, MaxArgs: 2, ReturnType: ValueVector},
	"clamp":         {Kind: FuncTransform, MinArgs: 3, MaxArgs: 3, ReturnType: ValueVector},
	"clamp_min":     {Kind: FuncTransform, MinArgs: 2, MaxArgs: 2, ReturnType: ValueVector},
	"clamp_max":     {Kind: FuncTransform, MinArgs: 2, MaxArgs: 2, ReturnType: ValueVector},
	"sqrt":          {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"exp":           {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"ln":            {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"log2":          {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"log10":         {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"sgn":           {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"absent":        {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"vector":        {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"scalar":        {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueScalar},
	"sort":          {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"sort_desc":     {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},
	"timestamp":     {Kind: FuncTransform, MinArgs: 1, MaxArgs: 1, ReturnType: ValueVector},

	// label manipulation.
	"label_replace": {Kind: FuncLabel, MinArgs: 5, MaxArgs: 5, ReturnType: ValueVector},
	"label_join":    {Kind: FuncLabel, MinArgs: 4, MaxArgs: -1, ReturnType: ValueVector},
}

// RollupWindowArg reports whether name's first argument must carry a
// range-vector window
func RollupWindowArg(name string) bool {
	fn, ok := Functions[name]
	return ok && fn.Kind == FuncRollup
}
