package memstore

import "github.com/barberdesk/barberdesk/services/booking-service/internal/seed"

// FromSeed builds a Store provisioned from s.
func FromSeed(s seed.Seed) (*Store, error) {
	schedules, err := s.Schedules()
	if err != nil {
		return nil, err
	}
	st := New()
	for _, staff := range s.Staff {
		st.PutStaff(staff)
	}
	for _, svc := range s.Services {
		st.PutService(svc)
	}
	for _, m := range schedules {
		st.PutSchedule(m)
	}
	return st, nil
}
