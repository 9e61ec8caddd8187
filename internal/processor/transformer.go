package processor

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"maxwell-cdc/internal/config"
	"maxwell-cdc/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEventRejected is returned when a JavaScript transform function rejects an event
// by returning null or undefined
var ErrEventRejected = errors.New("event rejected by transformer")

// Transformer rewrites change events before they are published, either with
// YAML rules or with a JavaScript function.
type Transformer struct {
	config   *config.ProcessorConfig
	logger   *logrus.Logger
	rules    []*RuleMatcher
	jsScript string
	natsConn *nats.Conn // exposed to scripts as `nats` when set
}

// RuleMatcher matches and applies transformation rules
type RuleMatcher struct {
	database  string
	table     string
	include   map[string]bool
	exclude   map[string]bool
	rename    map[string]string
	addFields map[string]string
}

// NewTransformer creates a new transformer with the given configuration
func NewTransformer(cfg *config.ProcessorConfig, logger *logrus.Logger, natsConn *nats.Conn) (*Transformer, error) {
	t := &Transformer{
		config:   cfg,
		logger:   logger,
		natsConn: natsConn,
	}
	if cfg == nil || !cfg.Enabled {
		return t, nil
	}

	if err := ValidateRules(cfg); err != nil {
		return nil, err
	}

	if cfg.Script != "" {
		script, err := os.ReadFile(cfg.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read JavaScript script file: %w", err)
		}
		if _, err := compileScript(goja.New(), string(script)); err != nil {
			return nil, fmt.Errorf("invalid JavaScript script: %w", err)
		}
		t.jsScript = string(script)
		logger.Infof("Loaded JavaScript transformation script: %s", cfg.Script)
		return t, nil
	}

	for _, rule := range cfg.Rules {
		m := &RuleMatcher{
			database:  rule.Database,
			table:     rule.Table,
			include:   make(map[string]bool),
			exclude:   make(map[string]bool),
			rename:    make(map[string]string, len(rule.Rename)),
			addFields: rule.AddFields,
		}
		for _, field := range rule.Include {
			m.include[strings.ToLower(field)] = true
		}
		for _, field := range rule.Exclude {
			m.exclude[strings.ToLower(field)] = true
		}
		for from, to := range rule.Rename {
			m.rename[strings.ToLower(from)] = to
		}
		t.rules = append(t.rules, m)
	}

	return t, nil
}

// compileScript runs the script and returns its transform function: either
// the function the script evaluates to or a global named `transform`.
func compileScript(vm *goja.Runtime, script string) (goja.Callable, error) {
	result, err := vm.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("failed to execute script: %w", err)
	}

	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if fn, ok := goja.AssertFunction(result); ok {
			return fn, nil
		}
	}

	if named := vm.Get("transform"); named != nil && !goja.IsUndefined(named) && !goja.IsNull(named) {
		if fn, ok := goja.AssertFunction(named); ok {
			return fn, nil
		}
	}

	return nil, fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
}

// Transform applies the configured transformation. It returns
// ErrEventRejected when a script drops the event.
func (t *Transformer) Transform(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	if t.config == nil || !t.config.Enabled {
		return event, nil
	}

	// script takes precedence over rules
	if t.jsScript != "" {
		return t.transformWithJavaScript(event)
	}
	if len(t.rules) > 0 {
		return t.transformWithRules(event), nil
	}
	return event, nil
}

func (t *Transformer) transformWithJavaScript(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	t.logger.Debugf("Transforming event with JavaScript: %s.%s (kind: %s)", event.Database, event.Table, event.Kind)

	// goja.Runtime is not safe for concurrent use, so every call gets its own
	vm := goja.New()
	if err := t.setupConsoleBindings(vm); err != nil {
		return nil, fmt.Errorf("failed to setup console bindings: %w", err)
	}
	if t.natsConn != nil {
		if err := t.setupNATSBindings(vm); err != nil {
			return nil, fmt.Errorf("failed to setup NATS bindings: %w", err)
		}
	}

	transform, err := compileScript(vm, t.jsScript)
	if err != nil {
		return nil, err
	}

	if err := vm.Set("eventJSON", string(eventJSON)); err != nil {
		return nil, fmt.Errorf("failed to set event JSON: %w", err)
	}
	eventObj, err := vm.RunString("JSON.parse(eventJSON)")
	if err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	result, err := transform(goja.Undefined(), eventObj)
	if err != nil {
		return nil, fmt.Errorf("JavaScript transform function error: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		t.logger.Debugf("Event rejected by JavaScript transformer: %s.%s (kind: %s)", event.Database, event.Table, event.Kind)
		return nil, ErrEventRejected
	}

	resultJSON, err := json.Marshal(result.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	t.logger.Debugf("JavaScript transformation result: %s", string(resultJSON))

	transformed := &models.ChangeEvent{}
	if err := json.Unmarshal(resultJSON, transformed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	// fields the script added beyond the known ones survive through RawJSON
	transformed.RawJSON = resultJSON

	return transformed, nil
}

func (t *Transformer) transformWithRules(event *models.ChangeEvent) *models.ChangeEvent {
	var matched *RuleMatcher
	for _, rule := range t.rules {
		if rule.matches(event.Database, event.Table) {
			matched = rule
			break
		}
	}
	if matched == nil {
		return event
	}

	transformed := *event
	transformed.Row = matched.apply(event.Row)
	transformed.RawJSON = nil
	return &transformed
}

// apply projects, renames and extends a single row
func (r *RuleMatcher) apply(row map[string]interface{}) map[string]interface{} {
	if row == nil {
		return nil
	}

	out := make(map[string]interface{}, len(row)+len(r.addFields))
	for key, value := range r.addFields {
		out[key] = value
	}

	for key, value := range row {
		lower := strings.ToLower(key)
		if len(r.exclude) > 0 && r.exclude[lower] {
			continue
		}
		if len(r.include) > 0 && !r.include[lower] {
			continue
		}
		if renamed, ok := r.rename[lower]; ok {
			key = renamed
		}
		out[key] = value
	}
	return out
}

// matches checks if a rule matches the given database and table; empty matches all
func (r *RuleMatcher) matches(database, table string) bool {
	if r.database != "" && !strings.EqualFold(r.database, database) {
		return false
	}
	if r.table != "" && !strings.EqualFold(r.table, table) {
		return false
	}
	return true
}

func (t *Transformer) setupConsoleBindings(vm *goja.Runtime) error {
	console := vm.NewObject()

	format := func(call goja.FunctionCall) string {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		return fmt.Sprint(args...)
	}
	bind := func(log func(args ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			log(format(call))
			return goja.Undefined()
		}
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"log":   bind(t.logger.Info),
		"info":  bind(t.logger.Info),
		"warn":  bind(t.logger.Warn),
		"error": bind(t.logger.Error),
		"debug": bind(t.logger.Debug),
	} {
		if err := console.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}

	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}

// toBytes converts a script value into a message body, marshalling
// anything that is not already text.
func toBytes(v goja.Value) ([]byte, error) {
	switch exported := v.Export().(type) {
	case string:
		return []byte(exported), nil
	case []byte:
		return exported, nil
	default:
		return json.Marshal(exported)
	}
}

// setupNATSBindings exposes nats.publish and nats.kv.{get,put,delete}
func (t *Transformer) setupNATSBindings(vm *goja.Runtime) error {
	natsObj := vm.NewObject()

	publish := func(call goja.FunctionCall) goja.Value {
		subject := call.Argument(0).String()
		if subject == "" {
			panic(vm.NewTypeError("nats.publish: subject is required"))
		}
		data := call.Argument(1)
		if goja.IsUndefined(data) || goja.IsNull(data) {
			panic(vm.NewTypeError("nats.publish: data is required"))
		}
		payload, err := toBytes(data)
		if err != nil {
			panic(vm.NewTypeError("nats.publish: failed to marshal data: %v", err))
		}
		if err := t.natsConn.Publish(subject, payload); err != nil {
			t.logger.Errorf("NATS publish error: %v", err)
			panic(vm.NewGoError(err))
		}
		t.logger.Debugf("Published to NATS subject: %s", subject)
		return goja.Undefined()
	}
	if err := natsObj.Set("publish", publish); err != nil {
		return fmt.Errorf("failed to set publish function: %w", err)
	}

	bucket := func(call goja.FunctionCall, op string) (nats.KeyValue, string) {
		name := call.Argument(0).String()
		key := call.Argument(1).String()
		if name == "" || key == "" {
			panic(vm.NewTypeError("nats.kv.%s: bucket and key are required", op))
		}
		js, err := t.natsConn.JetStream()
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("failed to get JetStream context: %w", err)))
		}
		kv, err := js.KeyValue(name)
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("failed to get KV store '%s': %w", name, err)))
		}
		return kv, key
	}

	kvObj := vm.NewObject()
	kvGet := func(call goja.FunctionCall) goja.Value {
		kv, key := bucket(call, "get")
		entry, err := kv.Get(key)
		if errors.Is(err, nats.ErrKeyNotFound) {
			return goja.Null()
		}
		if err != nil {
			t.logger.Errorf("KV get error: %v", err)
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(string(entry.Value()))
	}
	kvPut := func(call goja.FunctionCall) goja.Value {
		kv, key := bucket(call, "put")
		value := call.Argument(2)
		if goja.IsUndefined(value) || goja.IsNull(value) {
			panic(vm.NewTypeError("nats.kv.put: value is required"))
		}
		payload, err := toBytes(value)
		if err != nil {
			panic(vm.NewTypeError("nats.kv.put: failed to marshal value: %v", err))
		}
		if _, err := kv.Put(key, payload); err != nil {
			t.logger.Errorf("KV put error: %v", err)
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}
	kvDelete := func(call goja.FunctionCall) goja.Value {
		kv, key := bucket(call, "delete")
		if err := kv.Delete(key); err != nil {
			t.logger.Errorf("KV delete error: %v", err)
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"get":    kvGet,
		"put":    kvPut,
		"delete": kvDelete,
	} {
		if err := kvObj.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set KV %s function: %w", name, err)
		}
	}

	if err := natsObj.Set("kv", kvObj); err != nil {
		return fmt.Errorf("failed to set KV object: %w", err)
	}
	if err := vm.Set("nats", natsObj); err != nil {
		return fmt.Errorf("failed to set nats object: %w", err)
	}
	return nil
}

// ValidateRules validates processor configuration rules
func ValidateRules(cfg *config.ProcessorConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	if cfg.Script != "" {
		if _, err := os.Stat(cfg.Script); os.IsNotExist(err) {
			return fmt.Errorf("JavaScript script file not found: %s", cfg.Script)
		}
	}
	if cfg.Script != "" && len(cfg.Rules) > 0 {
		return fmt.Errorf("cannot specify both 'script' and 'rules' - script takes precedence")
	}

	for i, rule := range cfg.Rules {
		if len(rule.Include) > 0 && len(rule.Exclude) > 0 {
			return fmt.Errorf("processor rule %d: cannot specify both 'include' and 'exclude' fields", i)
		}
		if len(rule.Include) == 0 {
			continue
		}
		for from := range rule.Rename {
			found := false
			for _, inc := range rule.Include {
				if strings.EqualFold(inc, from) {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("processor rule %d: rename key '%s' not found in include list", i, from)
			}
		}
	}

	return nil
}
