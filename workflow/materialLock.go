package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireMaterialLock serializes repair operations per material across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the repair transaction.
func AcquireMaterialLock(tx *gorm.DB, materialId int) error {
	lockName := fmt.Sprintf("material:%d", materialId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire material lock for material_id=%d", materialId)
	}
	return nil
}

func ReleaseMaterialLock(tx *gorm.DB, materialId int) {
	lockName := fmt.Sprintf("material:%d", materialId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
