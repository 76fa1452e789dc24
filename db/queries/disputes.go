package queries

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
)

func InsertDispute(tx *gorm.DB, dispute *db.Dispute) error {
	return tx.Create(dispute).Error
}

func GetDisputeForUpdate(tx *gorm.DB, disputeID string) (*db.Dispute, error) {
	var dispute db.Dispute
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&dispute, "id = ?", disputeID).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func GetDisputeByOrderID(tx *gorm.DB, orderID string) (*db.Dispute, error) {
	var dispute db.Dispute
	err := tx.First(&dispute, "order_id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func UpdateDispute(tx *gorm.DB, dispute *db.Dispute) error {
	return tx.Save(dispute).Error
}

func ListOpenDisputes(tx *gorm.DB) ([]db.Dispute, error) {
	var disputes []db.Dispute
	err := tx.
		Where("status IN ?", []string{constants.DISPUTE_STATUS_INITIATED, constants.DISPUTE_STATUS_IN_PROGRESS}).
		Find(&disputes).Error
	return disputes, err
}
