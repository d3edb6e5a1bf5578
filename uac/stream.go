package uac

// SetAltSetting tracks an interface-alternate-setting selection by the
// host. The notification fires for every registered function; each
// function checks the AC header's interface-number list to see whether
// the selected interface is one of its own. A match flips the enable flag
// of the direction the interface's isochronous endpoint serves: alternate
// setting 0 disables the direction's data flow, anything else enables it.
func (f *Function) SetAltSetting(nr, alt uint8) {
	st := f.set.StreamByInterface(nr)
	if st == nil || !f.set.OwnsInterface(nr) {
		return
	}
	enabled := alt != 0
	if st.Endpoint.In() {
		f.txEnabled = enabled
	} else {
		f.rxEnabled = enabled
	}
	f.logger.Debug("alternate setting selected", "interface", nr, "alt", alt)
}
