package bridge

import "github.com/backkem/matterbridge/pkg/datamodel"

// Operation names a manager operation reported to observers.
type Operation string

// Observed operations.
const (
	OpAdd    Operation = "add"
	OpRemove Operation = "remove"
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpUpdate Operation = "update"
)

// Observer is notified of registry changes. Calls happen on the work
// queue.
type Observer interface {
	DeviceAdded(index int, dev *Device)
	DeviceRemoved(index int, dev *Device)
	AttributeUpdated(dev *Device, path datamodel.ConcreteAttributePath)
	OperationCompleted(op Operation, err error)
}

// BaseObserver implements Observer with no-ops. Embed it to observe a
// subset of events.
type BaseObserver struct{}

func (BaseObserver) DeviceAdded(int, *Device)                                  {}
func (BaseObserver) DeviceRemoved(int, *Device)                                {}
func (BaseObserver) AttributeUpdated(*Device, datamodel.ConcreteAttributePath) {}
func (BaseObserver) OperationCompleted(Operation, error)                       {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) DeviceAdded(index int, dev *Device) {
	for _, x := range o {
		x.DeviceAdded(index, dev)
	}
}

func (o Observers) DeviceRemoved(index int, dev *Device) {
	for _, x := range o {
		x.DeviceRemoved(index, dev)
	}
}

func (o Observers) AttributeUpdated(dev *Device, path datamodel.ConcreteAttributePath) {
	for _, x := range o {
		x.AttributeUpdated(dev, path)
	}
}

func (o Observers) OperationCompleted(op Operation, err error) {
	for _, x := range o {
		x.OperationCompleted(op, err)
	}
}
