package datamodel

// AttributeAccess serves attributes and commands of dynamic endpoints.
// The node calls it with the dynamic endpoint index, not the endpoint ID.
type AttributeAccess interface {
	// ReadExternalAttribute writes the raw attribute value into buf and
	// returns the number of bytes written.
	ReadExternalAttribute(index int, cluster ClusterID, attribute AttributeID, buf []byte) (int, error)

	// WriteExternalAttribute applies a raw attribute value.
	WriteExternalAttribute(index int, cluster ClusterID, attribute AttributeID, data []byte) error

	// InvokeExternalCommand runs a command that carries no fields.
	InvokeExternalCommand(index int, cluster ClusterID, command CommandID) error
}

// AttributeChangeListener is notified when an attribute value changes.
// Used to trigger subscription reports and outer mirrors.
type AttributeChangeListener interface {
	OnAttributeChanged(path ConcreteAttributePath)
}

// AttributeChangeFunc adapts a function to AttributeChangeListener.
type AttributeChangeFunc func(path ConcreteAttributePath)

// OnAttributeChanged calls f(path).
func (f AttributeChangeFunc) OnAttributeChanged(path ConcreteAttributePath) {
	f(path)
}
