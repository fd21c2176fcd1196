package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/logger"
	"github.com/fabrica-platform/esb-relay/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var captureDBSeq int

func newCaptureDB(t *testing.T, cfgs ...model.OutboxConfig) *gorm.DB {
	captureDBSeq++
	dsn := fmt.Sprintf("file:capture%d?mode=memory&cache=shared", captureDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.OutboxConfig{}, &model.OutboxRecord{},
		&model.Product{}, &model.Customer{},
	))
	for i := range cfgs {
		assert.NoError(t, db.Create(&cfgs[i]).Error)
	}

	log, _ := logger.NewLogger()
	rules := NewRuleCache(db, time.Hour, log)
	assert.NoError(t, rules.ForceRefresh(context.Background()))

	ic := NewInterceptor(rules, log)
	ic.RegisterAggregate(model.Product{}, "fabrica", "product")
	ic.RegisterAggregate(model.Customer{}, "fabrica", "")
	assert.NoError(t, db.Use(ic))
	return db
}

func productConfig(ins, upd, del bool) model.OutboxConfig {
	return model.OutboxConfig{
		SchemaName: "fabrica", TargetTable: "product",
		CaptureInsert: ins, CaptureUpdate: upd, CaptureDelete: del, IsActive: true,
	}
}

func fetchRecords(t *testing.T, db *gorm.DB) []model.OutboxRecord {
	var recs []model.OutboxRecord
	assert.NoError(t, db.Order("created_at").Find(&recs).Error)
	return recs
}

func TestInterceptor_CaptureInsert(t *testing.T) {
	db := newCaptureDB(t, productConfig(true, false, false))

	p := model.Product{
		ID: "p-1", TenantID: "t-1", Name: "Anvil", SKU: "SKU-1",
		Price: decimal.NewFromInt(100), Stock: 3,
	}
	assert.NoError(t, db.Create(&p).Error)

	recs := fetchRecords(t, db)
	assert.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "t-1", rec.TenantID)
	assert.Equal(t, "product", rec.AggregateType)
	assert.Equal(t, "p-1", rec.AggregateID)
	assert.Equal(t, "product.created", rec.EventType)
	assert.Equal(t, model.OutboxStatusPending, rec.Status)
	assert.Nil(t, rec.ProcessedAt)

	var payload map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.EventData, &payload))
	assert.Equal(t, "Anvil", payload["name"])
	assert.Equal(t, "SKU-1", payload["sku"])
	assert.Equal(t, "t-1", payload["tenant_id"])
}

func TestInterceptor_SnakeCaseFieldNames(t *testing.T) {
	db := newCaptureDB(t, model.OutboxConfig{
		SchemaName: "fabrica", TargetTable: "customer",
		CaptureInsert: true, IsActive: true,
	})

	c := model.Customer{ID: "c-1", TenantID: "t-1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
	assert.NoError(t, db.Create(&c).Error)

	recs := fetchRecords(t, db)
	assert.Len(t, recs, 1)
	assert.Equal(t, "customer.created", recs[0].EventType)

	var payload map[string]interface{}
	assert.NoError(t, json.Unmarshal(recs[0].EventData, &payload))
	assert.Equal(t, "Ada", payload["first_name"])
	assert.Equal(t, "Lovelace", payload["last_name"])
	_, hasCamel := payload["FirstName"]
	assert.False(t, hasCamel)
}

func TestInterceptor_FailClosedWithoutConfig(t *testing.T) {
	db := newCaptureDB(t) // no config rows at all

	p := model.Product{ID: "p-1", TenantID: "t-1", Name: "Anvil", SKU: "SKU-1", Price: decimal.NewFromInt(1)}
	assert.NoError(t, db.Create(&p).Error)
	assert.NoError(t, db.Save(&p).Error)
	assert.NoError(t, db.Delete(&model.Product{ID: "p-1"}).Error)

	assert.Empty(t, fetchRecords(t, db))
}

func TestInterceptor_OperationKindRespected(t *testing.T) {
	db := newCaptureDB(t, productConfig(false, true, false))

	p := model.Product{ID: "p-1", TenantID: "t-1", Name: "Anvil", SKU: "SKU-1", Price: decimal.NewFromInt(1)}
	assert.NoError(t, db.Create(&p).Error)
	assert.Empty(t, fetchRecords(t, db), "insert not captured")

	p.Name = "Bigger Anvil"
	assert.NoError(t, db.Save(&p).Error)

	recs := fetchRecords(t, db)
	assert.Len(t, recs, 1)
	assert.Equal(t, "product.updated", recs[0].EventType)

	var payload map[string]interface{}
	assert.NoError(t, json.Unmarshal(recs[0].EventData, &payload))
	assert.Equal(t, "Bigger Anvil", payload["name"])
}

func TestInterceptor_DeleteCapturesPreImage(t *testing.T) {
	db := newCaptureDB(t, productConfig(false, false, true))

	p := model.Product{ID: "p-1", TenantID: "t-1", Name: "Anvil", SKU: "SKU-1", Price: decimal.NewFromInt(1)}
	assert.NoError(t, db.Create(&p).Error)

	// delete by bare id: the event still carries the pre-delete field values
	assert.NoError(t, db.Delete(&model.Product{ID: "p-1"}).Error)

	recs := fetchRecords(t, db)
	assert.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "product.deleted", rec.EventType)
	assert.Equal(t, "t-1", rec.TenantID)

	var payload map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.EventData, &payload))
	assert.Equal(t, "Anvil", payload["name"])
	assert.Equal(t, "t-1", payload["tenant_id"])
}

func TestInterceptor_RollbackLeavesNoRecord(t *testing.T) {
	db := newCaptureDB(t, productConfig(true, true, true))

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		p := model.Product{ID: "p-1", TenantID: "t-1", Name: "Anvil", SKU: "SKU-1", Price: decimal.NewFromInt(1)}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var products int64
	assert.NoError(t, db.Model(&model.Product{}).Count(&products).Error)
	assert.Zero(t, products)
	assert.Empty(t, fetchRecords(t, db), "no record without its committed mutation")
}

func TestInterceptor_OneRecordPerMutation(t *testing.T) {
	db := newCaptureDB(t, productConfig(true, true, false))

	for i := 0; i < 3; i++ {
		p := model.Product{
			ID: fmt.Sprintf("p-%d", i), TenantID: "t-1",
			Name: "Anvil", SKU: fmt.Sprintf("SKU-%d", i), Price: decimal.NewFromInt(1),
		}
		assert.NoError(t, db.Create(&p).Error)
	}
	assert.Len(t, fetchRecords(t, db), 3)
}

func TestInterceptor_UnregisteredTypeIgnored(t *testing.T) {
	db := newCaptureDB(t, model.OutboxConfig{
		SchemaName: "fabrica", TargetTable: "esb_outbox_config",
		CaptureInsert: true, IsActive: true,
	})

	// config rows themselves are not aggregates and never captured
	assert.NoError(t, db.Create(&model.OutboxConfig{
		SchemaName: "fabrica", TargetTable: "customer", CaptureInsert: true, IsActive: true,
	}).Error)
	assert.Empty(t, fetchRecords(t, db))
}
