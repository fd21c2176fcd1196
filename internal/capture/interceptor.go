package capture

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Aggregate is the capability a persistable entity implements to become
// outbox-eligible. Entities must also be registered with RegisterAggregate.
type Aggregate interface {
	AggregateID() string
	Tenant() string
}

type tableMeta struct {
	Schema string
	Table  string
}

const preImageKey = "esb:pre_image"

type preImage struct {
	agg     Aggregate
	payload map[string]interface{}
}

// Interceptor is a gorm plugin that stages an OutboxRecord alongside every
// captured insert/update/delete, on the same connection/transaction as the
// triggering statement.
type Interceptor struct {
	rules *RuleCache
	log   *zap.SugaredLogger

	mu    sync.RWMutex
	metas map[reflect.Type]tableMeta
}

// NewInterceptor builds an interceptor backed by the given rule cache.
func NewInterceptor(rules *RuleCache, log *zap.SugaredLogger) *Interceptor {
	return &Interceptor{
		rules: rules,
		log:   log,
		metas: make(map[reflect.Type]tableMeta),
	}
}

// RegisterAggregate declares the schema/table mapping for an entity type.
// An empty table falls back to the snake_case of the struct name.
func (i *Interceptor) RegisterAggregate(entity Aggregate, schema, table string) {
	t := reflect.Indirect(reflect.ValueOf(entity)).Type()
	if table == "" {
		table = ToSnake(t.Name())
	}
	i.mu.Lock()
	i.metas[t] = tableMeta{Schema: schema, Table: table}
	i.mu.Unlock()
}

func (i *Interceptor) metaFor(t reflect.Type) (tableMeta, bool) {
	i.mu.RLock()
	m, ok := i.metas[t]
	i.mu.RUnlock()
	return m, ok
}

// Name implements gorm.Plugin.
func (i *Interceptor) Name() string { return "esb:interceptor" }

// Initialize implements gorm.Plugin; wires the capture callbacks.
func (i *Interceptor) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().After("gorm:create").Register("esb:capture_insert", i.afterCreate); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("esb:capture_update", i.afterUpdate); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("esb:snapshot_delete", i.beforeDelete); err != nil {
		return err
	}
	return db.Callback().Delete().After("gorm:delete").Register("esb:capture_delete", i.afterDelete)
}

func (i *Interceptor) afterCreate(db *gorm.DB) { i.capture(db, OpInsert) }
func (i *Interceptor) afterUpdate(db *gorm.DB) { i.capture(db, OpUpdate) }

func (i *Interceptor) capture(db *gorm.DB, op Op) {
	if db.Error != nil || db.Statement.Schema == nil || db.RowsAffected == 0 {
		return
	}
	rv := reflect.Indirect(db.Statement.ReflectValue)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for n := 0; n < rv.Len(); n++ {
			i.captureOne(db, op, reflect.Indirect(rv.Index(n)))
		}
	case reflect.Struct:
		i.captureOne(db, op, rv)
	}
}

func (i *Interceptor) captureOne(db *gorm.DB, op Op, rv reflect.Value) {
	meta, ok := i.metaFor(rv.Type())
	if !ok {
		return
	}
	agg, ok := rv.Interface().(Aggregate)
	if !ok || agg.AggregateID() == "" {
		return
	}
	if !i.rules.ShouldCapture(db.Statement.Context, meta.Schema, meta.Table, op) {
		return
	}
	i.stage(db, op, meta, agg, i.snapshot(db, rv))
}

// beforeDelete snapshots the row about to be removed so the delete event can
// carry the pre-commit field values.
func (i *Interceptor) beforeDelete(db *gorm.DB) {
	if db.Error != nil || db.Statement.Schema == nil {
		return
	}
	rv := reflect.Indirect(db.Statement.ReflectValue)
	if rv.Kind() != reflect.Struct {
		return
	}
	meta, ok := i.metaFor(rv.Type())
	if !ok {
		return
	}
	agg, ok := rv.Interface().(Aggregate)
	if !ok || agg.AggregateID() == "" {
		return
	}
	if !i.rules.ShouldCapture(db.Statement.Context, meta.Schema, meta.Table, OpDelete) {
		return
	}

	pk := db.Statement.Schema.PrioritizedPrimaryField
	if pk == nil {
		return
	}
	dest := reflect.New(db.Statement.Schema.ModelType)
	sess := db.Session(&gorm.Session{NewDB: true, SkipHooks: true})
	err := sess.Where(fmt.Sprintf("%s = ?", pk.DBName), agg.AggregateID()).First(dest.Interface()).Error
	if err != nil {
		i.log.Warnw("pre-delete snapshot failed", "table", meta.Table, "id", agg.AggregateID(), "err", err)
		return
	}
	orig := reflect.Indirect(dest)
	origAgg, _ := orig.Interface().(Aggregate)
	if origAgg == nil {
		return
	}
	db.InstanceSet(preImageKey, preImage{agg: origAgg, payload: i.snapshot(db, orig)})
}

func (i *Interceptor) afterDelete(db *gorm.DB) {
	if db.Error != nil || db.RowsAffected == 0 {
		return
	}
	v, ok := db.InstanceGet(preImageKey)
	if !ok {
		return
	}
	pre, ok := v.(preImage)
	if !ok {
		return
	}
	rv := reflect.Indirect(db.Statement.ReflectValue)
	meta, ok := i.metaFor(rv.Type())
	if !ok {
		return
	}
	i.stage(db, OpDelete, meta, pre.agg, pre.payload)
}

// stage appends the outbox record on the statement's own connection so it
// commits or rolls back with the business mutation. A failed append fails
// the statement; a record-less committed mutation would break the pipeline's
// core invariant.
func (i *Interceptor) stage(db *gorm.DB, op Op, meta tableMeta, agg Aggregate, payload map[string]interface{}) {
	rec := &model.OutboxRecord{
		ID:            uuid.NewString(),
		TenantID:      agg.Tenant(),
		AggregateType: meta.Table,
		AggregateID:   agg.AggregateID(),
		EventType:     fmt.Sprintf("%s.%s", meta.Table, op.EventSuffix()),
		EventData:     i.marshalPayload(agg, payload),
		Status:        model.OutboxStatusPending,
		CreatedAt:     time.Now(),
	}
	sess := db.Session(&gorm.Session{NewDB: true, SkipHooks: true})
	if err := sess.Create(rec).Error; err != nil {
		db.AddError(err)
	}
}

// marshalPayload serializes the field snapshot, degrading to a minimal
// payload instead of failing the surrounding transaction.
func (i *Interceptor) marshalPayload(agg Aggregate, payload map[string]interface{}) datatypes.JSON {
	data, err := json.Marshal(payload)
	if err != nil {
		i.log.Warnw("outbox payload serialization failed", "id", agg.AggregateID(), "err", err)
		data, _ = json.Marshal(map[string]string{
			"id":              agg.AggregateID(),
			"tenant_id":       agg.Tenant(),
			"serialize_error": err.Error(),
		})
	}
	return datatypes.JSON(data)
}

// snapshot maps the entity's fields to a snake_case name -> value map using
// the column names gorm derived for the schema.
func (i *Interceptor) snapshot(db *gorm.DB, rv reflect.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(db.Statement.Schema.Fields))
	for _, f := range db.Statement.Schema.Fields {
		if f.DBName == "" {
			continue
		}
		val, _ := f.ValueOf(db.Statement.Context, rv)
		out[f.DBName] = val
	}
	return out
}

// ToSnake converts a PascalCase type name to its snake_case table fallback.
func ToSnake(name string) string {
	var b strings.Builder
	for idx, r := range name {
		if r >= 'A' && r <= 'Z' {
			if idx > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
