package services

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/spf13/viper"

	"github.com/commonfund/backend/internal/models"
)

// ISO20022Service builds the remittance messages sent to the external funds
// settlement system when a batch clears. Only message construction and export
// live here; the processor side is an external collaborator.
type ISO20022Service struct{}

func NewISO20022Service() *ISO20022Service {
	return &ISO20022Service{}
}

// CreateBatchRemittance creates a pacs.008 credit transfer covering the
// cleared watershed amount of a settlement batch.
func (iso *ISO20022Service) CreateBatchRemittance(batch *models.SettlementBatch) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	viper.SetDefault("settlement.currency", "USD")
	viper.SetDefault("settlement.bic", "CMNFUNDX")
	viper.SetDefault("settlement.clearing_member_id", "COMMONFUND")

	currency := viper.GetString("settlement.currency")
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := batch.ExpectedClearDate
	amount := batch.TotalWatershedCredit.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(batch.ID)}[0],
					EndToEndId: common.Max35Text(batch.ID),
					TxId:       &[]common.Max35Text{common.Max35Text(batch.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(viper.GetString("settlement.bic"))}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("Ad revenue pool")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(viper.GetString("settlement.clearing_member_id")),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(fmt.Sprintf("Settlement batch %s", batch.ID))}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreateBatchStatusReport creates a pacs.002 status report for a batch.
func (iso *ISO20022Service) CreateBatchStatusReport(batch *models.SettlementBatch, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(batch.ID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(batch.ID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(batch.ID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0], // ACCP, RJCT, ACSC, etc.
			},
		},
	}

	return doc, nil
}

// SendToSettlement exports a message to the settlement system.
func (iso *ISO20022Service) SendToSettlement(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: wire the clearing partner's delivery endpoint once provisioned
	fmt.Printf("Sending to settlement: %s\n", string(xmlData))
	return nil
}

// ConvertToXML converts an ISO 20022 document to an XML string.
func (iso *ISO20022Service) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
