package gpib

// Board addresses an interface board as a whole rather than one
// instrument. It requires the BoardDriver capability; drivers without it
// report ECAP.
type Board struct {
	drv   Driver
	index int
}

// NewBoard returns a handle on the board with the given index.
func NewBoard(drv Driver, index int) *Board {
	return &Board{drv: drv, index: index}
}

func (b *Board) capability() (BoardDriver, error) {
	bd, ok := b.drv.(BoardDriver)
	if !ok {
		return nil, &Error{Kind: KindDevice, Code: ECAP, Status: ERR, Op: "board"}
	}
	return bd, nil
}

// InterfaceClear pulses IFC: all devices untalk and unlisten and the board
// becomes controller-in-charge.
func (b *Board) InterfaceClear() error {
	bd, err := b.capability()
	if err != nil {
		return err
	}
	st := bd.InterfaceClear(b.index)
	if st.Err() {
		_, err := decodeStatus("ifc", st, bd.Err(-1), 0)
		return err
	}
	return nil
}

// FindListeners scans the bus and returns the addresses of all answering
// devices.
func (b *Board) FindListeners() ([]Address, error) {
	bd, err := b.capability()
	if err != nil {
		return nil, err
	}
	pads, st := bd.FindListeners(b.index)
	if st.Err() {
		_, err := decodeStatus("findlisteners", st, bd.Err(-1), 0)
		return nil, err
	}
	addrs := make([]Address, 0, len(pads))
	for _, pad := range pads {
		addrs = append(addrs, Address{Board: b.index, Primary: pad})
	}
	return addrs, nil
}
