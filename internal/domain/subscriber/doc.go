// Package subscriber содержит доменную модель подписчика курса ежедневных уроков.
//
// Пакет определяет:
//
//   - Сущность Subscriber и её переходы состояний регистрации
//   - Чистую функцию Decide, которая решает, что делать с подписчиком сегодня
//   - Интерфейс хранилища Store с оптимистичным версионированием
//
// # Жизненный цикл
//
//	unregistered → awaiting_attribute → active → completed
//
// Состояния двигаются только вперёд, completed - терминальное.
//
// # Один урок в день
//
// Подписчик в состоянии active получает урок NextUnitIndex, если
// LastDeliveredOn не совпадает с сегодняшней календарной датой:
//
//	action := Decide(*sub, today, totalUnits)
//	if action.Kind == ActionSendUnit {
//	    // отправить урок action.Unit, затем sub.RecordDelivery(...)
//	}
//
// Сегодняшняя дата вычисляется вызывающим кодом один раз в одной
// часовой зоне и передаётся явно, поэтому Decide детерминирована.
package subscriber
