package report

// Message publishes typed report events on a bus.
type Message struct {
	bus *Bus
}

func (m Message) publish(kind Kind, params ...any) {
	area, _ := kind.Area()
	m.bus.Publish(Event{Area: area, Kind: kind, Params: params})
}

func (m Message) Start()    { m.publish(KindStart) }
func (m Message) Stop()     { m.publish(KindStop) }
func (m Message) Complete() { m.publish(KindComplete) }

func (m Message) SuiteStart(id, parentID, title string) {
	m.publish(KindSuiteStart, id, parentID, title)
}

func (m Message) SuiteEnd(id string) {
	m.publish(KindSuiteEnd, id)
}

func (m Message) TestStart(id, parentID, title string) {
	m.publish(KindTestStart, id, parentID, title)
}

func (m Message) TestPassed(id string) {
	m.publish(KindTestPassed, id)
}

func (m Message) TestFailed(id, message, reason string) {
	m.publish(KindTestFailed, id, message, reason)
}

func (m Message) TestError(id, message, reason string) {
	m.publish(KindTestError, id, message, reason)
}

func (m Message) TestSkipped(id, reason string) {
	m.publish(KindTestSkipped, id, reason)
}

func (m Message) TestIncomplete(id string) {
	m.publish(KindTestIncomplete, id)
}

func (m Message) TestUndefined(id string) {
	m.publish(KindTestUndefined, id)
}

func (m Message) ItemData(id string, payload any) {
	m.publish(KindItemData, id, payload)
}

func (m Message) ItemMessage(id, text string) {
	m.publish(KindItemMessage, id, text)
}

// Admin publishes an internal coordination event. Only bridges see it.
func (m Message) Admin(kind Kind, params ...any) {
	m.bus.Publish(Event{Area: AreaAdmin, Kind: kind, Params: params})
}
