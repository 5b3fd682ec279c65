package chirp

import "fmt"

// ServiceAlreadyRegisteredError is raised by Manager.RegisterService when the
// same (service, port) pair is already locally registered.
type ServiceAlreadyRegisteredError struct {
	Service ServiceIdentifier
	Port    uint16
}

func (e *ServiceAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("chirp: service %s on port %d is already registered", e.Service, e.Port)
}

// NewServiceAlreadyRegisteredError builds a ServiceAlreadyRegisteredError.
func NewServiceAlreadyRegisteredError(service ServiceIdentifier, port uint16) *ServiceAlreadyRegisteredError {
	return &ServiceAlreadyRegisteredError{Service: service, Port: port}
}

// ServiceNotRegisteredError is raised by Manager.UnregisterService when the
// (service, port) pair has no matching local registration.
type ServiceNotRegisteredError struct {
	Service ServiceIdentifier
	Port    uint16
}

func (e *ServiceNotRegisteredError) Error() string {
	return fmt.Sprintf("chirp: service %s on port %d is not registered", e.Service, e.Port)
}

// NewServiceNotRegisteredError builds a ServiceNotRegisteredError.
func NewServiceNotRegisteredError(service ServiceIdentifier, port uint16) *ServiceNotRegisteredError {
	return &ServiceNotRegisteredError{Service: service, Port: port}
}

// AnyServiceForbiddenError is raised when ANY is passed to RegisterService,
// which only REQUEST messages may use.
type AnyServiceForbiddenError struct{}

func (e *AnyServiceForbiddenError) Error() string {
	return "chirp: ANY is not a valid service identifier to register"
}
