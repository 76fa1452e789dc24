package queries

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Catrya/mostro/db"
)

var ErrInvalidTradeIndex = errors.New("trade index was already used by this pubkey")

// GetOrCreateUser loads the user row for a pubkey, creating it lazily on
// first appearance.
func GetOrCreateUser(tx *gorm.DB, pubkey string) (*db.User, error) {
	var user db.User
	err := tx.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pubkey"}},
			DoNothing: true,
		}).
		Create(&db.User{Pubkey: pubkey}).Error
	if err != nil {
		return nil, err
	}
	err = tx.First(&user, "pubkey = ?", pubkey).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUser(tx *gorm.DB, pubkey string) (*db.User, error) {
	var user db.User
	err := tx.First(&user, "pubkey = ?", pubkey).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// BumpTradeIndex validates and records a trade index for a user. Indexes are
// monotonic per pubkey, so replaying a message from a settled trade fails.
func BumpTradeIndex(tx *gorm.DB, pubkey string, tradeIndex int64) error {
	user, err := GetOrCreateUser(tx, pubkey)
	if err != nil {
		return err
	}
	if tradeIndex <= user.TradeIndex {
		return ErrInvalidTradeIndex
	}
	return tx.Model(&db.User{}).
		Where("pubkey = ?", pubkey).
		Update("trade_index", tradeIndex).Error
}

// AddTradingVolume creates the user row if needed; a counterparty may
// complete a trade without ever having messaged the daemon.
func AddTradingVolume(tx *gorm.DB, pubkey string, sats int64) error {
	if _, err := GetOrCreateUser(tx, pubkey); err != nil {
		return err
	}
	return tx.Model(&db.User{}).
		Where("pubkey = ?", pubkey).
		Update("trading_volume", gorm.Expr("trading_volume + ?", sats)).Error
}

func SetSolverFlag(tx *gorm.DB, pubkey string, isSolver bool) error {
	_, err := GetOrCreateUser(tx, pubkey)
	if err != nil {
		return err
	}
	return tx.Model(&db.User{}).
		Where("pubkey = ?", pubkey).
		Update("is_solver", isSolver).Error
}

func AddRating(tx *gorm.DB, rating *db.Rating) error {
	if err := tx.Create(rating).Error; err != nil {
		return err
	}
	_, err := GetOrCreateUser(tx, rating.RatedPubkey)
	if err != nil {
		return err
	}
	return tx.Model(&db.User{}).
		Where("pubkey = ?", rating.RatedPubkey).
		Updates(map[string]interface{}{
			"total_reviews": gorm.Expr("total_reviews + 1"),
			"rating_sum":    gorm.Expr("rating_sum + ?", rating.Value),
		}).Error
}
