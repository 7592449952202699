package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/commonfund/backend/internal/models"
)

func testBatch() *models.SettlementBatch {
	now := time.Now()
	return &models.SettlementBatch{
		ID:                   "batch123",
		BatchDate:            now,
		TotalGross:           decimal.RequireFromString("100.00"),
		TotalPlatformCut:     decimal.RequireFromString("30.00"),
		TotalWatershedCredit: decimal.RequireFromString("70.00"),
		AdViewCount:          40,
		Status:               models.BatchStatusPending,
		NetTermDays:          30,
		ExpectedClearDate:    now.AddDate(0, 0, 30),
		CreatedAt:            now,
	}
}

func TestISO20022Service_CreateBatchRemittance(t *testing.T) {
	service := NewISO20022Service()

	t.Run("create valid pacs008", func(t *testing.T) {
		batch := testBatch()

		doc, err := service.CreateBatchRemittance(batch)
		assert.NoError(t, err)
		assert.NotNil(t, doc)
		assert.NotEmpty(t, doc.GrpHdr.MsgId)
		assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
		assert.Equal(t, "USD", string(doc.GrpHdr.TtlIntrBkSttlmAmt.Ccy))
		assert.Equal(t, 70.0, doc.GrpHdr.TtlIntrBkSttlmAmt.Value)
		assert.Len(t, doc.CdtTrfTxInf, 1)
		assert.Equal(t, batch.ID, string(*doc.CdtTrfTxInf[0].PmtId.InstrId))
		assert.Equal(t, batch.ID, string(doc.CdtTrfTxInf[0].PmtId.EndToEndId))
	})
}

func TestISO20022Service_CreateBatchStatusReport(t *testing.T) {
	service := NewISO20022Service()

	t.Run("create valid pacs002", func(t *testing.T) {
		batch := testBatch()

		doc, err := service.CreateBatchStatusReport(batch, "ACSC")
		assert.NoError(t, err)
		assert.NotNil(t, doc)
		assert.NotEmpty(t, doc.GrpHdr.MsgId)
		assert.Len(t, doc.TxInfAndSts, 1)
		assert.Equal(t, batch.ID, string(*doc.TxInfAndSts[0].OrgnlInstrId))
		assert.Equal(t, batch.ID, string(*doc.TxInfAndSts[0].OrgnlEndToEndId))
		assert.Equal(t, "ACSC", string(*doc.TxInfAndSts[0].TxSts))
	})
}

func TestISO20022Service_ConvertToXML(t *testing.T) {
	service := NewISO20022Service()

	t.Run("convert to XML", func(t *testing.T) {
		doc, err := service.CreateBatchRemittance(testBatch())
		assert.NoError(t, err)

		xmlString, err := service.ConvertToXML(doc)
		assert.NoError(t, err)
		assert.NotEmpty(t, xmlString)
		assert.Contains(t, xmlString, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>")
		assert.Contains(t, xmlString, "batch123")
		assert.Contains(t, xmlString, "USD")
	})

	t.Run("convert invalid struct", func(t *testing.T) {
		invalidStruct := make(chan int)

		xmlString, err := service.ConvertToXML(invalidStruct)
		assert.Error(t, err)
		assert.Empty(t, xmlString)
		assert.Contains(t, err.Error(), "failed to marshal XML")
	})
}

func TestISO20022Service_SendToSettlement(t *testing.T) {
	service := NewISO20022Service()

	t.Run("send remittance", func(t *testing.T) {
		doc, err := service.CreateBatchRemittance(testBatch())
		assert.NoError(t, err)

		err = service.SendToSettlement(doc)
		assert.NoError(t, err)
	})

	t.Run("send invalid document", func(t *testing.T) {
		invalidDoc := make(chan int)

		err := service.SendToSettlement(invalidDoc)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to marshal XML")
	})
}
