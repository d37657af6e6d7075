package radio

// UnitStatus is a point-in-time view of one radio unit.
type UnitStatus struct {
	Unit        Unit      `json:"unit"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Band        Band      `json:"band"`
	SessionOpen bool      `json:"sessionOpen"`
	Modulation  string    `json:"modulation,omitempty"`
	Receiving   bool      `json:"receiving"`
	Frequency   Frequency `json:"frequency,omitempty"`
	Paused      bool      `json:"paused"`
	InFlight    int32     `json:"inFlight"`
	LastSeq     uint32    `json:"lastSequence"`
	Queued      int       `json:"queued"`
	FreeTasks   int       `json:"freeTasks"`
	Terminating bool      `json:"terminating"`
}

// UnitList is the registry snapshot returned by List.
type UnitList struct {
	Units []UnitStatus `json:"units"`
}

// Status returns a snapshot of unit. The fields are read without stopping
// the dispatcher, so they may be mutually inconsistent by one command.
func (m *Manager) Status(unit Unit) (UnitStatus, error) {
	u, err := m.unitState(unit)
	if err != nil {
		return UnitStatus{}, err
	}
	return u.status(), nil
}

// List returns a snapshot of every unit in identifier order.
func (m *Manager) List() UnitList {
	list := UnitList{Units: make([]UnitStatus, 0, len(m.order))}
	for _, unit := range m.order {
		list.Units = append(list.Units, m.units[unit].status())
	}
	return list
}

func (u *unitState) status() UnitStatus {
	s := UnitStatus{
		Unit:        u.unit,
		ID:          u.unit.String(),
		Name:        u.name,
		Band:        u.band,
		SessionOpen: u.sessionOpen.Load(),
		Paused:      u.paused.Load(),
		InFlight:    u.txCount.Load(),
		LastSeq:     u.txSeq.Load(),
		Queued:      u.queue.len(),
		FreeTasks:   u.pool.available(),
		Terminating: u.terminate.Load(),
	}
	if s.SessionOpen {
		s.Modulation = Modulation(u.sessionMod.Load()).String()
	}
	if cfg := u.rxConfig.Load(); cfg != nil {
		s.Receiving = true
		s.Frequency = cfg.Frequency
	}
	return s
}
