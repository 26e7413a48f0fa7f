package stores

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smartcare/billing/apperrors"
)

// AppointmentDirectory resolves billing facts from the scheduling service's
// tables. Read-only; appointment lifecycle lives elsewhere.
type AppointmentDirectory struct {
	BaseStore
}

func CreateAppointmentDirectory(db *gorm.DB) *AppointmentDirectory {
	return &AppointmentDirectory{BaseStore: BaseStore{db: db}}
}

// ConsultationFee returns the patient and the doctor's consultation fee for
// an appointment. Implements services.AppointmentSource.
func (s *AppointmentDirectory) ConsultationFee(ctx context.Context, appointmentID int64) (int64, decimal.Decimal, error) {
	var row struct {
		PatientID       int64
		ConsultationFee decimal.Decimal
	}
	err := s.GetDB(ctx).Table("appointments").
		Select("appointments.patient_id, doctors.consultation_fee").
		Joins("JOIN doctors ON doctors.id = appointments.doctor_id").
		Where("appointments.id = ?", appointmentID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, decimal.Zero, apperrors.NotFound("appointment %d not found", appointmentID)
	}
	if err != nil {
		return 0, decimal.Zero, err
	}
	return row.PatientID, row.ConsultationFee, nil
}
