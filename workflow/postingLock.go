package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireCustomerSettlementLock serializes settlements per customer across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the settlement transaction.
func AcquireCustomerSettlementLock(tx *gorm.DB, customerId int) error {
	lockName := fmt.Sprintf("settlement:%d", customerId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire settlement lock for customer_id=%d", customerId)
	}
	return nil
}

func ReleaseCustomerSettlementLock(tx *gorm.DB, customerId int) {
	lockName := fmt.Sprintf("settlement:%d", customerId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
