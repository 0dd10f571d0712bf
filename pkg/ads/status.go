package ads

// ResolveStatus maps an ad's stored flags to its lifecycle status. The flags
// are not mutually exclusive by construction, so the checks run in strict
// priority order and the first match wins. Pure function of the record.
func ResolveStatus(ad Ad) Status {
	switch {
	case ad.Rejected:
		return StatusRejected
	case ad.Banned:
		return StatusBanned
	case ad.Active && ad.RemainingDays > 0:
		return StatusActive
	case !ad.Active && ad.RemainingDays == 0:
		return StatusArchived
	case !ad.Active && ad.RemainingDays > 0 && ad.ReservationID == nil && ad.IsPaid:
		return StatusAbandoned
	case !ad.Active && ad.RemainingDays > 0:
		return StatusPending
	default:
		return StatusUnknown
	}
}
